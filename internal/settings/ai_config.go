package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrInvalidAIConfig wraps every AI configuration validation failure.
var ErrInvalidAIConfig = errors.New("invalid ai config")

// AIConfig is the runtime-editable part of the AI configuration. Credentials
// and the upstream address stay in the config file.
type AIConfig struct {
	Model         string   `json:"model"`
	SystemPrompt  string   `json:"system_prompt"`
	Temperature   float64  `json:"temperature"`
	MaxTokens     int      `json:"max_tokens"`
	AllowedModels []string `json:"allowed_models"`
}

// AIConfigPatch carries the fields an admin update touches.
type AIConfigPatch struct {
	Model         *string  `json:"model"`
	SystemPrompt  *string  `json:"system_prompt"`
	Temperature   *float64 `json:"temperature"`
	MaxTokens     *int     `json:"max_tokens"`
	AllowedModels []string `json:"allowed_models"`
}

// Validate checks the configuration for internal consistency.
func (c AIConfig) Validate() error {
	if len(c.AllowedModels) == 0 {
		return fmt.Errorf("%w: allowed_models must not be empty", ErrInvalidAIConfig)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidAIConfig)
	}
	found := false
	for _, m := range c.AllowedModels {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: allowed_models contains an empty entry", ErrInvalidAIConfig)
		}
		if m == c.Model {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: model %q is not in allowed_models", ErrInvalidAIConfig, c.Model)
	}
	if c.Temperature < 0 || c.Temperature > MaxTemperature {
		return fmt.Errorf("%w: temperature must be between 0 and %.1f", ErrInvalidAIConfig, MaxTemperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > MaxCompletionTokens {
		return fmt.Errorf("%w: max_tokens must be between 1 and %d", ErrInvalidAIConfig, MaxCompletionTokens)
	}
	return nil
}

func (c AIConfig) apply(p AIConfigPatch) AIConfig {
	next := c
	next.AllowedModels = append([]string(nil), c.AllowedModels...)
	if p.Model != nil {
		next.Model = strings.TrimSpace(*p.Model)
	}
	if p.SystemPrompt != nil {
		next.SystemPrompt = *p.SystemPrompt
	}
	if p.Temperature != nil {
		next.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		next.MaxTokens = *p.MaxTokens
	}
	if p.AllowedModels != nil {
		next.AllowedModels = make([]string, 0, len(p.AllowedModels))
		for _, m := range p.AllowedModels {
			next.AllowedModels = append(next.AllowedModels, strings.TrimSpace(m))
		}
	}
	return next
}

// AIConfigFromFile derives the runtime defaults from the YAML section.
func AIConfigFromFile(cfg config.AIConfig) AIConfig {
	return AIConfig{
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		AllowedModels: append([]string(nil), cfg.AllowedModels...),
	}
}

// Service reads and writes runtime settings through a Snapshot.
type Service struct {
	db        *gorm.DB
	snap      *Snapshot
	clock     clock.Clock
	aiDefault AIConfig
}

// NewService constructs a Service. aiDefault applies until AI_CONFIG is stored.
func NewService(db *gorm.DB, snap *Snapshot, clk clock.Clock, aiDefault AIConfig) *Service {
	if snap == nil {
		snap = NewSnapshot()
	}
	return &Service{db: db, snap: snap, clock: clock.OrSystem(clk), aiDefault: aiDefault}
}

// Refresh reloads the snapshot from the database.
func (s *Service) Refresh(ctx context.Context) error {
	return Refresh(ctx, s.db, s.snap)
}

// AIConfig returns the active AI configuration. A stored value that cannot be
// decoded or fails validation is ignored in favour of the defaults.
func (s *Service) AIConfig() AIConfig {
	raw, ok := s.snap.Value(AIConfigKey)
	if !ok || len(raw) == 0 {
		return s.aiDefault.apply(AIConfigPatch{})
	}
	var patch AIConfigPatch
	if errDecode := json.Unmarshal(raw, &patch); errDecode != nil {
		log.WithError(errDecode).Warn("settings: stored AI_CONFIG is not valid json, using defaults")
		return s.aiDefault.apply(AIConfigPatch{})
	}
	cfg := s.aiDefault.apply(patch)
	if errValidate := cfg.Validate(); errValidate != nil {
		log.WithError(errValidate).Warn("settings: stored AI_CONFIG rejected, using defaults")
		return s.aiDefault.apply(AIConfigPatch{})
	}
	return cfg
}

// UpdateAIConfig merges patch into the active configuration, validates and
// persists the result, and refreshes the snapshot.
func (s *Service) UpdateAIConfig(ctx context.Context, patch AIConfigPatch) (AIConfig, error) {
	next := s.AIConfig().apply(patch)
	if errValidate := next.Validate(); errValidate != nil {
		return AIConfig{}, errValidate
	}
	if errPut := Put(ctx, s.db, AIConfigKey, next, s.clock.Now()); errPut != nil {
		return AIConfig{}, fmt.Errorf("settings: store ai config: %w", errPut)
	}
	if errRefresh := s.Refresh(ctx); errRefresh != nil {
		return AIConfig{}, fmt.Errorf("settings: refresh: %w", errRefresh)
	}
	return next, nil
}

// AuditRetentionDays returns the runtime override for audit retention, or
// fallback when none is stored.
func (s *Service) AuditRetentionDays(fallback int) int {
	raw, ok := s.snap.Value(AuditRetentionDaysKey)
	if !ok {
		return fallback
	}
	var days int
	if errDecode := json.Unmarshal(raw, &days); errDecode != nil || days < 0 {
		return fallback
	}
	return days
}
