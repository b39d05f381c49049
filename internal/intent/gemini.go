package intent

import (
	"context"

	"google.golang.org/genai"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
)

const defaultModel = "gemini-2.0-flash"

// GeminiClassifier classifies messages with the Gemini API, constrained to
// a JSON response.
type GeminiClassifier struct {
	client *genai.Client
	model  string
}

func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, clierr.New(clierr.CodeUsage, "Gemini API key is required for chat")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "create Gemini client", err)
	}
	return &GeminiClassifier{client: client, model: model}, nil
}

func (g *GeminiClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "Gemini request failed", err)
	}
	text := result.Text()
	if text == "" {
		return "", clierr.New(clierr.CodeUnavailable, "Gemini returned an empty classification")
	}
	return text, nil
}
