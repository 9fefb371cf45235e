package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 2048

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIGateway talks to any server implementing the chat completions API
// (OpenAI, vLLM, llama.cpp, Ollama's /v1 endpoint).
type OpenAIGateway struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *logging.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIGateway creates a chat completions gateway.
func NewOpenAIGateway(cfg OpenAIConfig, logger *logging.Logger) *OpenAIGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OpenAIGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name implements core.Gateway.
func (g *OpenAIGateway) Name() string { return "openai" }

// Invoke implements core.Gateway. When the request carries a schema hint the
// server is asked for a JSON object; the hint itself is advisory and is only
// shown to the model through the prompt.
func (g *OpenAIGateway) Invoke(ctx context.Context, req core.GatewayRequest) (*core.GatewayResponse, error) {
	payload := chatRequest{
		Model:       firstNonEmpty(req.Model, g.cfg.Model),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}
	if req.Temperature > 0 {
		payload.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if len(req.SchemaHint) > 0 {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.ErrGateway(core.CodeGatewayFailed, "building chat request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrGatewayTransient(core.CodeGatewayFailed, "reading chat response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, core.ErrGateway(core.CodeGatewayFailed, "decoding chat response").WithCause(err)
	}
	if decoded.Error != nil {
		return nil, core.ErrGateway(core.CodeGatewayFailed, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, core.ErrGateway(core.CodeEmptyResponse, "chat response has no choices")
	}

	duration := time.Since(start)
	g.logger.Debug("openai: completion received",
		"model", decoded.Model,
		"finish_reason", decoded.Choices[0].FinishReason,
		"tokens_in", decoded.Usage.PromptTokens,
		"tokens_out", decoded.Usage.CompletionTokens,
		"duration", duration,
	)
	return &core.GatewayResponse{
		Text:      decoded.Choices[0].Message.Content,
		Model:     firstNonEmpty(decoded.Model, payload.Model),
		TokensIn:  decoded.Usage.PromptTokens,
		TokensOut: decoded.Usage.CompletionTokens,
		Duration:  duration,
	}, nil
}

// statusError classifies a non-200 response. Rate limits and server errors
// are retryable; everything else is final.
func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("chat completions returned %d: %s", status, truncateBody(body))
	switch {
	case status == http.StatusTooManyRequests:
		return core.ErrGatewayTransient(core.CodeGatewayRateLimited, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrGateway(core.CodeGatewayAuth, msg)
	case status >= 500:
		return core.ErrGatewayTransient(core.CodeGatewayFailed, msg)
	default:
		return core.ErrGateway(core.CodeGatewayFailed, msg)
	}
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return core.ErrGateway(core.CodeGatewayFailed, "chat request cancelled").WithCause(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return core.ErrGatewayTransient(core.CodeGatewayTimeout, "chat request timed out").WithCause(err)
	}
	return core.ErrGatewayTransient(core.CodeGatewayFailed, "chat request failed").WithCause(err)
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
