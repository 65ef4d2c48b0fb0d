// Package ai is the client for the OpenAI-compatible completion provider that
// chat credits pay for.
package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/chatgate/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// rawPayloadLogLimit bounds how much of an upstream body is logged.
	rawPayloadLogLimit = 512
	maxResponseBytes   = 4 << 20
	defaultTimeout     = 60 * time.Second
)

// Provider errors. Status and malformed-body failures are distinct from a
// well-formed response that carries no text.
var (
	ErrEmptyMessage      = errors.New("message is required")
	ErrModelNotAllowed   = errors.New("model not allowed")
	ErrUpstreamStatus    = errors.New("upstream returned non-success status")
	ErrUpstreamTransport = errors.New("upstream unreachable")
	ErrMalformedResponse = errors.New("upstream returned malformed response")
	ErrEmptyCompletion   = errors.New("upstream returned empty completion")
)

// Message is one turn of chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Model        string
	SystemPrompt string
	History      []Message
	UserMessage  string
	Temperature  float64
	MaxTokens    int
}

// Completion is the provider's answer.
type Completion struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Provider completes chat requests.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// CheckModel returns ErrModelNotAllowed unless model appears in allowed.
func CheckModel(allowed []string, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return ErrModelNotAllowed
	}
	for _, candidate := range allowed {
		if strings.TrimSpace(candidate) == model {
			return nil
		}
	}
	return ErrModelNotAllowed
}

// HTTPProvider calls POST {baseURL}/chat/completions.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider constructs an HTTPProvider. A non-positive timeout uses 60s.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete sends req upstream and extracts the first choice.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return Completion{}, ErrEmptyMessage
	}
	body, errBody := buildRequestBody(req)
	if errBody != nil {
		return Completion{}, errBody
	}

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if errReq != nil {
		return Completion{}, fmt.Errorf("build upstream request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, errDo := p.client.Do(httpReq)
	if errDo != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, ctxErr
		}
		log.WithError(errDo).WithField("model", req.Model).Error("ai: upstream request failed")
		return Completion{}, fmt.Errorf("%w: %v", ErrUpstreamTransport, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("ai: close upstream body")
		}
	}()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, ctxErr
		}
		return Completion{}, fmt.Errorf("%w: read body: %v", ErrMalformedResponse, errRead)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"model":  req.Model,
			"body":   logging.Truncate(string(raw), rawPayloadLogLimit),
		}).Error("ai: upstream returned error status")
		return Completion{}, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	completion, errParse := parseCompletion(raw)
	if errParse != nil {
		log.WithFields(log.Fields{
			"model": req.Model,
			"body":  logging.Truncate(string(raw), rawPayloadLogLimit),
		}).WithError(errParse).Error("ai: upstream response rejected")
		return Completion{}, errParse
	}
	if completion.Model == "" {
		completion.Model = req.Model
	}
	return completion, nil
}

func buildRequestBody(req Request) ([]byte, error) {
	body := []byte(`{"messages":[]}`)
	var errSet error
	set := func(path string, value any) {
		if errSet != nil {
			return
		}
		body, errSet = sjson.SetBytes(body, path, value)
	}

	set("model", req.Model)
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		set("messages.-1", Message{Role: "system", Content: prompt})
	}
	for _, msg := range req.History {
		role := strings.TrimSpace(msg.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		set("messages.-1", Message{Role: role, Content: msg.Content})
	}
	set("messages.-1", Message{Role: "user", Content: req.UserMessage})
	set("temperature", req.Temperature)
	if req.MaxTokens > 0 {
		set("max_tokens", req.MaxTokens)
	}
	set("stream", false)
	if errSet != nil {
		return nil, fmt.Errorf("encode upstream request: %w", errSet)
	}
	return body, nil
}

func parseCompletion(raw []byte) (Completion, error) {
	if !gjson.ValidBytes(raw) {
		return Completion{}, ErrMalformedResponse
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Completion{}, ErrMalformedResponse
	}
	if errMsg := root.Get("error.message"); errMsg.Exists() {
		return Completion{}, fmt.Errorf("%w: provider error", ErrMalformedResponse)
	}
	choices := root.Get("choices")
	if !choices.IsArray() {
		return Completion{}, ErrMalformedResponse
	}
	first := choices.Get("0")
	if !first.Exists() {
		return Completion{}, ErrEmptyCompletion
	}
	content := first.Get("message.content")
	if content.Exists() && content.Type != gjson.String && content.Type != gjson.Null {
		return Completion{}, ErrMalformedResponse
	}

	completion := Completion{
		Text:             content.String(),
		Model:            root.Get("model").String(),
		FinishReason:     first.Get("finish_reason").String(),
		PromptTokens:     root.Get("usage.prompt_tokens").Int(),
		CompletionTokens: root.Get("usage.completion_tokens").Int(),
	}
	if strings.TrimSpace(completion.Text) == "" {
		return Completion{}, ErrEmptyCompletion
	}
	return completion, nil
}
