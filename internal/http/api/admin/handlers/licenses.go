package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/http/api"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/moderation"
)

// LicenseHandler handles admin operations for licenses.
type LicenseHandler struct {
	engine *moderation.Engine
}

// NewLicenseHandler constructs a LicenseHandler.
func NewLicenseHandler(engine *moderation.Engine) *LicenseHandler {
	return &LicenseHandler{engine: engine}
}

// licenseDTO defines the license response payload.
type licenseDTO struct {
	ID           uint64     `json:"id"`
	Key          string     `json:"key"`
	Plan         string     `json:"plan"`
	ValidityDays int        `json:"validity_days"`
	IssuedBy     uint64     `json:"issued_by"`
	Status       string     `json:"status,omitempty"`
	Consumed     bool       `json:"consumed"`
	Invalidated  bool       `json:"invalidated"`
	ConsumedBy   *uint64    `json:"consumed_by,omitempty"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func formatLicense(l *models.License, status string) licenseDTO {
	return licenseDTO{
		ID:           l.ID,
		Key:          l.Key,
		Plan:         l.Plan,
		ValidityDays: l.ValidityDays,
		IssuedBy:     l.IssuedBy,
		Status:       status,
		Consumed:     l.Consumed,
		Invalidated:  l.Invalidated,
		ConsumedBy:   l.ConsumedBy,
		ConsumedAt:   l.ConsumedAt,
		ExpiresAt:    l.ExpiresAt,
		CreatedAt:    l.CreatedAt,
	}
}

// createLicenseRequest captures the payload for issuing a license.
type createLicenseRequest struct {
	Plan         string `json:"plan"`          // Plan granted on redemption.
	ValidityDays int    `json:"validity_days"` // Redemption window, 0 for none.
}

// Create issues a new license key.
func (h *LicenseHandler) Create(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	var body createLicenseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		api.BadRequest(c, "invalid json")
		return
	}
	license, errCreate := h.engine.CreateLicense(c.Request.Context(), actor, body.Plan, body.ValidityDays)
	if errCreate != nil {
		api.Error(c, errCreate)
		return
	}
	api.Success(c, http.StatusCreated, gin.H{"license": formatLicense(&license, "active")})
}

// Invalidate retires a license without granting credits.
func (h *LicenseHandler) Invalidate(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	license, errInvalidate := h.engine.InvalidateLicense(c.Request.Context(), actor, c.Param("key"))
	if errInvalidate != nil {
		api.Error(c, errInvalidate)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"license": formatLicense(&license, "invalidated")})
}

// Purge deletes consumed and expired licenses.
func (h *LicenseHandler) Purge(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		api.Unauthorized(c)
		return
	}
	deleted, errPurge := h.engine.PurgeInvalidLicenses(c.Request.Context(), actor)
	if errPurge != nil {
		api.Error(c, errPurge)
		return
	}
	api.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}

// List returns licenses filtered by ?status= and ?plan=.
func (h *LicenseHandler) List(c *gin.Context) {
	limit, offset, ok := parsePagination(c)
	if !ok {
		api.BadRequest(c, "invalid pagination")
		return
	}
	views, total, errList := h.engine.ListLicenses(c.Request.Context(), moderation.LicenseQuery{
		Status: c.Query("status"),
		Plan:   c.Query("plan"),
		Limit:  limit,
		Offset: offset,
	})
	if errList != nil {
		api.Error(c, errList)
		return
	}
	resp := make([]licenseDTO, 0, len(views))
	for i := range views {
		resp = append(resp, formatLicense(&views[i].License, views[i].Status))
	}
	api.Success(c, http.StatusOK, gin.H{"licenses": resp, "total": total})
}
