package extract

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"scene-studio/internal/models"
)

// Gemini extracts scenes through the Gemini API using an API key.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini extractor: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

var sceneSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"visualPrompt": {Type: genai.TypeString, Description: "A visually descriptive prompt for this scene."},
			"scriptText":   {Type: genai.TypeString, Description: "The narration spoken over this scene."},
		},
		Required: []string{"visualPrompt", "scriptText"},
	},
}

func (g *Gemini) Extract(ctx context.Context, text string) ([]models.SceneDescriptor, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(fmt.Sprintf(scenePrompt, text)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   sceneSchema,
		Temperature:      genai.Ptr[float32](0.4),
	})
	if err != nil {
		return nil, fmt.Errorf("generate scenes: %w", err)
	}
	return parseScenes(resp.Text())
}

func (g *Gemini) WriteScript(ctx context.Context, title string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(fmt.Sprintf(scriptPrompt, title)), nil)
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	script := strings.TrimSpace(resp.Text())
	if script == "" {
		return "", fmt.Errorf("generate script: empty response")
	}
	return script, nil
}
