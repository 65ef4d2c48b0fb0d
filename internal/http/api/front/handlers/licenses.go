package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/ledger"
)

// LicenseFrontHandler handles license redemption for users.
type LicenseFrontHandler struct {
	ledger *ledger.Ledger
}

// NewLicenseFrontHandler constructs a LicenseFrontHandler.
func NewLicenseFrontHandler(l *ledger.Ledger) *LicenseFrontHandler {
	return &LicenseFrontHandler{ledger: l}
}

// redeemLicenseRequest defines the request body for license redemption.
type redeemLicenseRequest struct {
	Key string `json:"key"`
}

// Redeem consumes a license key for the current user.
func (h *LicenseFrontHandler) Redeem(c *gin.Context) {
	userID := subjectID(c)
	if userID == 0 {
		api.Unauthorized(c)
		return
	}

	var body redeemLicenseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}

	result, errRedeem := h.ledger.RedeemLicense(c.Request.Context(), userID, body.Key)
	if errRedeem != nil {
		api.Error(c, errRedeem)
		return
	}
	api.Success(c, http.StatusOK, gin.H{
		"plan":      result.Plan,
		"allotment": result.Allotment,
		"new_limit": result.NewLimit,
	})
}
