package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"poic-settlement/challenge"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiAdapter generates candidates with Google's Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

var _ Adapter = (*GeminiAdapter)(nil)

func NewGeminiAdapter(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("authoring: gemini api key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("authoring: create genai client: %w", err)
	}
	return &GeminiAdapter{client: client, model: model, log: log.Named("gemini")}, nil
}

func (g *GeminiAdapter) Generate(ctx context.Context, topic string, difficulty challenge.Difficulty) (Candidate, error) {
	resp, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(BuildPrompt(topic, difficulty)),
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](1.0),
			MaxOutputTokens:  500,
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return Candidate{}, fmt.Errorf("authoring: generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Candidate{}, fmt.Errorf("%w: empty completion", ErrInvalidCandidate)
	}
	g.log.Debug("completion received", zap.String("topic", topic))
	return ParseCandidate(text)
}
