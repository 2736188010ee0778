// Package extract turns narrative text into ordered scene descriptors.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"scene-studio/internal/models"
)

// ErrEmpty is returned when the text yields no scenes.
var ErrEmpty = errors.New("extract: no scenes found in text")

// Extractor produces scene descriptors from text. Index order is playback order.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]models.SceneDescriptor, error)
}

// ScriptWriter drafts a narration script from a short title.
type ScriptWriter interface {
	WriteScript(ctx context.Context, title string) (string, error)
}

var sentenceBreak = regexp.MustCompile(`[.!?]\s+`)

// SplitSentences breaks text after every '.', '!' or '?' that is followed by whitespace.
// Blank pieces are dropped.
func SplitSentences(text string) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	last := 0
	for _, m := range sentenceBreak.FindAllStringIndex(text, -1) {
		add(text[last : m[0]+1])
		last = m[1]
	}
	add(text[last:])
	return out
}

// SentenceSplitter is the offline extractor: one scene per sentence, narrated verbatim.
type SentenceSplitter struct{}

func (SentenceSplitter) Extract(_ context.Context, text string) ([]models.SceneDescriptor, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, ErrEmpty
	}
	out := make([]models.SceneDescriptor, len(sentences))
	for i, s := range sentences {
		out[i] = models.SceneDescriptor{Index: i, VisualPrompt: s, NarrationText: s}
	}
	return out, nil
}

// Fallback uses Primary and switches to Secondary when the primary model call fails.
// ErrEmpty and context errors are returned as is.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
	Log       *logrus.Logger
}

func (f Fallback) Extract(ctx context.Context, text string) ([]models.SceneDescriptor, error) {
	scenes, err := f.Primary.Extract(ctx, text)
	if err == nil || errors.Is(err, ErrEmpty) || ctx.Err() != nil {
		return scenes, err
	}
	if f.Log != nil {
		f.Log.WithError(err).Warn("scene extraction failed, splitting sentences instead")
	}
	return f.Secondary.Extract(ctx, text)
}

// WriteScript delegates to Primary when it can draft scripts.
func (f Fallback) WriteScript(ctx context.Context, title string) (string, error) {
	w, ok := f.Primary.(ScriptWriter)
	if !ok {
		return "", fmt.Errorf("extractor cannot draft scripts")
	}
	return w.WriteScript(ctx, title)
}

const scenePrompt = `Analyze this text and extract a series of distinct, visually interesting scenes for a narrated slideshow.
For short texts, extract at least 1-2 scenes. For long stories, extract up to 10-15 key moments.
For each scene return a detailed visual prompt and the part of the text to narrate over it.

TEXT: %q`

const scriptPrompt = `Write a short narration script, 6 to 10 sentences, for a cinematic video titled %q.
Return only the script text.`

type rawScene struct {
	VisualPrompt string `json:"visualPrompt"`
	ScriptText   string `json:"scriptText"`
}

// parseScenes reads a model JSON answer. Both [{visualPrompt, scriptText}] and a bare
// array of prompt strings are accepted.
func parseScenes(raw string) ([]models.SceneDescriptor, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil, fmt.Errorf("model returned an empty response")
	}

	var scenes []rawScene
	if err := json.Unmarshal([]byte(clean), &scenes); err != nil {
		var prompts []string
		if err2 := json.Unmarshal([]byte(clean), &prompts); err2 != nil {
			return nil, fmt.Errorf("parse scenes: %w", err)
		}
		for _, p := range prompts {
			scenes = append(scenes, rawScene{VisualPrompt: p})
		}
	}

	var out []models.SceneDescriptor
	for _, s := range scenes {
		if strings.TrimSpace(s.VisualPrompt) == "" {
			continue
		}
		out = append(out, models.SceneDescriptor{
			Index:         len(out),
			VisualPrompt:  strings.TrimSpace(s.VisualPrompt),
			NarrationText: strings.TrimSpace(s.ScriptText),
		})
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}
