package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig names the models used for each media kind.
type GeminiConfig struct {
	APIKey       string
	ImageModel   string
	VideoModel   string
	SpeechModel  string
	PollInterval time.Duration
}

// Gemini generates stills with Imagen, clips with Veo and narration with the TTS model.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini generator: api key is required")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) GenerateVisual(ctx context.Context, prompt, aspectRatio string) (Asset, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.cfg.ImageModel, prompt, &genai.GenerateImagesConfig{
		AspectRatio:    aspectRatio,
		NumberOfImages: 1,
	})
	if err != nil {
		return Asset{}, genErr("visual", err)
	}
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		mime := img.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return Asset{Data: img.Image.ImageBytes, MIMEType: mime}, nil
	}
	return Asset{}, genErr("visual", errors.New("no image data returned"))
}

func (g *Gemini) GenerateNarration(ctx context.Context, text, voiceID string) (Asset, error) {
	if strings.TrimSpace(text) == "" {
		return Asset{}, genErr("narration", errors.New("empty narration text"))
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.SpeechModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceID},
			},
		},
	})
	if err != nil {
		return Asset{}, genErr("narration", err)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			pcm := part.InlineData.Data
			return Asset{Data: EncodeWAV(pcm), MIMEType: "audio/wav", DurationSeconds: PCMDuration(pcm)}, nil
		}
	}
	return Asset{}, genErr("narration", errors.New("no audio data returned"))
}

// GenerateMotion starts a Veo operation and polls it until the clip is ready or ctx ends.
func (g *Gemini) GenerateMotion(ctx context.Context, prompt, aspectRatio string) (Asset, error) {
	op, err := g.client.Models.GenerateVideos(ctx, g.cfg.VideoModel, prompt, nil, &genai.GenerateVideosConfig{
		AspectRatio:    aspectRatio,
		NumberOfVideos: 1,
	})
	if err != nil {
		return Asset{}, genErr("motion", err)
	}

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return Asset{}, genErr("motion", ctx.Err())
		case <-ticker.C:
		}
		op, err = g.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return Asset{}, genErr("motion", err)
		}
	}
	if op.Error != nil {
		return Asset{}, genErr("motion", fmt.Errorf("operation failed: %v", op.Error["message"]))
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return Asset{}, genErr("motion", errors.New("no video returned"))
	}

	generated := op.Response.GeneratedVideos[0]
	data := generated.Video.VideoBytes
	if len(data) == 0 {
		data, err = g.client.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(generated), nil)
		if err != nil {
			return Asset{}, genErr("motion", fmt.Errorf("download video: %w", err))
		}
	}
	mime := generated.Video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return Asset{Data: data, MIMEType: mime}, nil
}
