// Package api holds the response envelope shared by the front and admin routes.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/ai"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/moderation"
	"github.com/router-for-me/chatgate/internal/plans"
	"github.com/router-for-me/chatgate/internal/reputation"
	"github.com/router-for-me/chatgate/internal/security"
	"github.com/router-for-me/chatgate/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Generic messages for failures whose cause is not shown to callers.
const (
	MessageUnauthorized = "unauthorized"
	MessageUpstream     = "upstream service error"
	MessageInternal     = "internal server error"
)

// classified maps a sentinel error to its status. The sentinel's text is the
// caller-visible message.
type classified struct {
	err    error
	status int
}

var taxonomy = []classified{
	{reputation.ErrInvalidAddress, http.StatusBadRequest},
	{reputation.ErrInvalidMaxAccounts, http.StatusBadRequest},
	{reputation.ErrInvalidUser, http.StatusBadRequest},
	{ledger.ErrInvalidLicenseKey, http.StatusBadRequest},
	{ledger.ErrLicenseAlreadyConsumed, http.StatusBadRequest},
	{ledger.ErrLicenseExpired, http.StatusBadRequest},
	{moderation.ErrInvalidDuration, http.StatusBadRequest},
	{moderation.ErrInvalidValidity, http.StatusBadRequest},
	{moderation.ErrInvalidFilter, http.StatusBadRequest},
	{plans.ErrUnknownPlan, http.StatusBadRequest},
	{settings.ErrInvalidAIConfig, http.StatusBadRequest},
	{ai.ErrEmptyMessage, http.StatusBadRequest},
	{ai.ErrModelNotAllowed, http.StatusBadRequest},

	{ledger.ErrAccountBanned, http.StatusForbidden},
	{ledger.ErrQuotaExceeded, http.StatusForbidden},

	{ledger.ErrUserNotFound, http.StatusNotFound},
	{ledger.ErrLicenseNotFound, http.StatusNotFound},
	{moderation.ErrBanNotFound, http.StatusNotFound},
}

// Success writes {"success": true, ...payload}.
func Success(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// Fail writes {"success": false, "error": message, "details": details}.
func Fail(c *gin.Context, status int, message string, details any) {
	c.JSON(status, failureBody(message, details))
}

// AbortFail is Fail for middlewares.
func AbortFail(c *gin.Context, status int, message string, details any) {
	c.AbortWithStatusJSON(status, failureBody(message, details))
}

// BadRequest writes a 400 envelope.
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, message, nil)
}

// Unauthorized writes the uniform 401 envelope.
func Unauthorized(c *gin.Context) {
	AbortFail(c, http.StatusUnauthorized, MessageUnauthorized, nil)
}

// Error maps err onto the envelope. Errors outside the taxonomy are logged
// and reported without their text.
func Error(c *gin.Context, err error) {
	status, message := Classify(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}
	Fail(c, status, message, nil)
}

// Classify returns the status and caller-visible message for err.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	switch {
	case errors.Is(err, moderation.ErrUnauthorized),
		errors.Is(err, security.ErrInvalidToken),
		errors.Is(err, security.ErrExpiredToken):
		return http.StatusUnauthorized, MessageUnauthorized
	case errors.Is(err, ai.ErrUpstreamStatus),
		errors.Is(err, ai.ErrUpstreamTransport),
		errors.Is(err, ai.ErrMalformedResponse),
		errors.Is(err, ai.ErrEmptyCompletion):
		return http.StatusInternalServerError, MessageUpstream
	}
	for _, entry := range taxonomy {
		if errors.Is(err, entry.err) {
			if entry.status == http.StatusBadRequest {
				return entry.status, err.Error()
			}
			return entry.status, entry.err.Error()
		}
	}
	return http.StatusInternalServerError, MessageInternal
}

func failureBody(message string, details any) gin.H {
	body := gin.H{"success": false, "error": message}
	if details != nil {
		body["details"] = details
	}
	return body
}
