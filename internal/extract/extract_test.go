package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"scene-studio/internal/logger"
	"scene-studio/internal/models"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("  A cat sat. A dog ran!  Did it rain?\nYes...   ")
	want := []string{"A cat sat.", "A dog ran!", "Did it rain?", "Yes..."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if out := SplitSentences("   \n "); len(out) != 0 {
		t.Fatalf("blank text should yield nothing, got %q", out)
	}
	// No whitespace after the dot keeps the sentence whole.
	if out := SplitSentences("v1.2 is out"); len(out) != 1 {
		t.Fatalf("expected one piece, got %q", out)
	}
}

func TestSentenceSplitterIndexes(t *testing.T) {
	scenes, err := SentenceSplitter{}.Extract(context.Background(), "A cat sat. A dog ran.")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(scenes) != 2 || scenes[1].Index != 1 || scenes[1].NarrationText != "A dog ran." {
		t.Fatalf("unexpected scenes %+v", scenes)
	}
	if _, err := (SentenceSplitter{}).Extract(context.Background(), " "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestParseScenes(t *testing.T) {
	scenes, err := parseScenes("```json\n[{\"visualPrompt\":\"a red door\",\"scriptText\":\"It opened.\"},{\"visualPrompt\":\" \",\"scriptText\":\"skip\"}]\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(scenes) != 1 || scenes[0].VisualPrompt != "a red door" || scenes[0].NarrationText != "It opened." {
		t.Fatalf("unexpected scenes %+v", scenes)
	}

	prompts, err := parseScenes(`["one", "two"]`)
	if err != nil || len(prompts) != 2 || prompts[1].Index != 1 {
		t.Fatalf("string array should parse, got %+v err=%v", prompts, err)
	}

	if _, err := parseScenes("[]"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := parseScenes("not json"); err == nil || errors.Is(err, ErrEmpty) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

type failingExtractor struct{ err error }

func (f failingExtractor) Extract(context.Context, string) ([]models.SceneDescriptor, error) {
	return nil, f.err
}

func TestFallbackSplitsOnModelFailure(t *testing.T) {
	f := Fallback{Primary: failingExtractor{err: errors.New("quota")}, Secondary: SentenceSplitter{}, Log: logger.Discard()}
	scenes, err := f.Extract(context.Background(), "One. Two.")
	if err != nil || len(scenes) != 2 {
		t.Fatalf("expected sentence fallback, got %+v err=%v", scenes, err)
	}

	f.Primary = failingExtractor{err: ErrEmpty}
	if _, err := f.Extract(context.Background(), "One. Two."); !errors.Is(err, ErrEmpty) {
		t.Fatalf("ErrEmpty must not trigger fallback, got %v", err)
	}
}
