package authoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"poic-settlement/challenge"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	anthropicVersion        = "2023-06-01"
)

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Headers are added to every request, e.g. for a gateway in front of the API.
	Headers map[string]string
	Timeout time.Duration
}

// AnthropicAdapter calls the messages endpoint of an Anthropic-compatible API.
type AnthropicAdapter struct {
	cfg        AnthropicConfig
	httpClient *http.Client
	log        *zap.Logger
}

var _ Adapter = (*AnthropicAdapter)(nil)

func NewAnthropicAdapter(cfg AnthropicConfig, log *zap.Logger) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("authoring: anthropic api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &AnthropicAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("anthropic"),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *AnthropicAdapter) Generate(ctx context.Context, topic string, difficulty challenge.Difficulty) (Candidate, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       a.cfg.Model,
		MaxTokens:   500,
		Messages:    []anthropicMessage{{Role: "user", Content: BuildPrompt(topic, difficulty)}},
		Temperature: 1.0,
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("authoring: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Candidate{}, fmt.Errorf("authoring: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Candidate{}, fmt.Errorf("authoring: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Candidate{}, fmt.Errorf("authoring: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Candidate{}, fmt.Errorf("authoring: api returned status %d: %s", resp.StatusCode, raw)
	}

	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Candidate{}, fmt.Errorf("authoring: parse response: %w", err)
	}
	if out.Error != nil {
		return Candidate{}, fmt.Errorf("authoring: api error: %s", out.Error.Message)
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return Candidate{}, fmt.Errorf("%w: empty completion", ErrInvalidCandidate)
	}

	a.log.Debug("completion received",
		zap.String("topic", topic),
		zap.Duration("took", time.Since(start)),
	)
	return ParseCandidate(text.String())
}
