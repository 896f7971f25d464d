package stage

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiStage runs one pipeline step against the Gemini API. The payload is
// sent as a single user turn under the stage's instruction; the text of the
// first candidate is the result.
type GeminiStage struct {
	client      *genai.Client
	model       string
	name        string
	instruction string
}

// NewGeminiStage creates a Gemini-backed work stage.
func NewGeminiStage(ctx context.Context, apiKey, model, name, instruction string) (*GeminiStage, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiStage{
		client:      client,
		model:       model,
		name:        name,
		instruction: instruction,
	}, nil
}

// Name returns the stage name.
func (s *GeminiStage) Name() string {
	return s.name
}

// Run sends the payload and returns the model's text response.
func (s *GeminiStage) Run(ctx context.Context, payload string) (Value, error) {
	var config *genai.GenerateContentConfig
	if s.instruction != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(s.instruction, genai.RoleUser),
		}
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(payload), config)
	if err != nil {
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}
