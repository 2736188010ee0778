package extract

import (
	"context"
	"fmt"
	"strings"

	vertexai "cloud.google.com/go/vertexai/genai"

	"scene-studio/internal/models"
)

// Vertex extracts scenes with a Vertex AI model addressed by project and region.
type Vertex struct {
	client *vertexai.Client
	model  *vertexai.GenerativeModel
	writer *vertexai.GenerativeModel
}

func NewVertex(ctx context.Context, projectID, region, modelName string) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex extractor: project and region cannot be empty")
	}
	client, err := vertexai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("vertexai.NewClient: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.Temperature = vertexai.Ptr[float32](0.4)
	model.ResponseSchema = &vertexai.Schema{
		Type: vertexai.TypeArray,
		Items: &vertexai.Schema{
			Type: vertexai.TypeObject,
			Properties: map[string]*vertexai.Schema{
				"visualPrompt": {Type: vertexai.TypeString},
				"scriptText":   {Type: vertexai.TypeString},
			},
			Required: []string{"visualPrompt", "scriptText"},
		},
	}

	return &Vertex{client: client, model: model, writer: client.GenerativeModel(modelName)}, nil
}

func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func (v *Vertex) Extract(ctx context.Context, text string) ([]models.SceneDescriptor, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	resp, err := v.model.GenerateContent(ctx, vertexai.Text(fmt.Sprintf(scenePrompt, text)))
	if err != nil {
		return nil, fmt.Errorf("generate scenes: %w", err)
	}
	return parseScenes(firstText(resp))
}

func (v *Vertex) WriteScript(ctx context.Context, title string) (string, error) {
	resp, err := v.writer.GenerateContent(ctx, vertexai.Text(fmt.Sprintf(scriptPrompt, title)))
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	script := strings.TrimSpace(firstText(resp))
	if script == "" {
		return "", fmt.Errorf("generate script: empty response")
	}
	return script, nil
}

func firstText(resp *vertexai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if txt, ok := p.(vertexai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
