package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatgate/internal/ai"
	"github.com/router-for-me/chatgate/internal/ledger"
	"github.com/router-for-me/chatgate/internal/moderation"
	"github.com/router-for-me/chatgate/internal/security"
)

func TestClassifyTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", ledger.ErrQuotaExceeded), http.StatusForbidden},
		{ledger.ErrAccountBanned, http.StatusForbidden},
		{ledger.ErrUserNotFound, http.StatusNotFound},
		{ledger.ErrLicenseNotFound, http.StatusNotFound},
		{ledger.ErrLicenseAlreadyConsumed, http.StatusBadRequest},
		{moderation.ErrUnauthorized, http.StatusUnauthorized},
		{security.ErrExpiredToken, http.StatusUnauthorized},
		{fmt.Errorf("%w: 502", ai.ErrUpstreamStatus), http.StatusInternalServerError},
		{ai.ErrEmptyCompletion, http.StatusInternalServerError},
		{ai.ErrModelNotAllowed, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if status, _ := Classify(tc.err); status != tc.status {
			t.Fatalf("Classify(%v) = %d, want %d", tc.err, status, tc.status)
		}
	}
}

func TestErrorHidesInternalText(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		Error(c, fmt.Errorf("%w: secret upstream body", ai.ErrMalformedResponse))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if body["success"] != false || body["error"] != MessageUpstream {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"used": 1})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body map[string]any
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if body["success"] != true || body["used"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}
}
