package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewProductionOptionsDefaults(t *testing.T) {
	opts, err := NewProductionOptions(ProductionOptions{}, DefaultStyles())
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if opts.ConcurrencyLimit != 6 || opts.AspectRatio != "16:9" || opts.Mode != ModeImage {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestNewProductionOptionsRejectsUnknownValues(t *testing.T) {
	cases := []ProductionOptions{
		{AspectRatio: "2:1"},
		{VoiceID: "Nobody"},
		{Mode: "audio"},
		{ConcurrencyLimit: -1},
		{StyleID: "vaporwave"},
	}
	for _, in := range cases {
		if _, err := NewProductionOptions(in, DefaultStyles()); err == nil {
			t.Fatalf("expected validation error for %+v", in)
		}
	}
}

func TestLoadStylesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "styles.yaml")
	body := "styles:\n  - id: noir\n    name: Noir\n    prompt_suffix: \", film noir\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write styles: %v", err)
	}

	catalog, err := LoadStyles(path)
	if err != nil {
		t.Fatalf("load styles: %v", err)
	}
	if _, ok := catalog.Find("none"); !ok {
		t.Fatalf("expected none style to be injected")
	}
	if got := catalog.Apply("noir", "a detective"); got != "a detective, film noir" {
		t.Fatalf("unexpected prompt %q", got)
	}
}
