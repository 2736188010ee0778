package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Production modes.
const (
	ModeImage = "image"
	ModeVideo = "video"
)

// AspectRatios lists the frame shapes the generators accept.
var AspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}

// Voices lists the prebuilt narration voices.
var Voices = []string{"Kore", "Puck", "Charon", "Zephyr", "Fenrir"}

// ProductionOptions enumerates every recognized option of a production request.
// Silent skips narration synthesis.
type ProductionOptions struct {
	AspectRatio      string `json:"aspectRatio" validate:"required,oneof=1:1 3:4 4:3 9:16 16:9"`
	StyleID          string `json:"styleId" validate:"required"`
	VoiceID          string `json:"voiceId" validate:"required,oneof=Kore Puck Charon Zephyr Fenrir"`
	ConcurrencyLimit int    `json:"concurrencyLimit" validate:"min=1,max=32"`
	Mode             string `json:"mode" validate:"required,oneof=image video"`
	Silent           bool   `json:"silent"`
}

// DefaultProductionOptions mirrors the studio defaults: wide stills narrated by Puck, six at a time.
func DefaultProductionOptions() ProductionOptions {
	return ProductionOptions{
		AspectRatio:      "16:9",
		StyleID:          "none",
		VoiceID:          "Puck",
		ConcurrencyLimit: 6,
		Mode:             ModeImage,
	}
}

var validate = validator.New()

// NewProductionOptions fills zero fields from defaults and validates the result once.
func NewProductionOptions(in ProductionOptions, styles StyleCatalog) (ProductionOptions, error) {
	out := DefaultProductionOptions()
	if in.AspectRatio != "" {
		out.AspectRatio = in.AspectRatio
	}
	if in.StyleID != "" {
		out.StyleID = in.StyleID
	}
	if in.VoiceID != "" {
		out.VoiceID = in.VoiceID
	}
	if in.ConcurrencyLimit != 0 {
		out.ConcurrencyLimit = in.ConcurrencyLimit
	}
	if in.Mode != "" {
		out.Mode = in.Mode
	}
	out.Silent = in.Silent
	if err := validate.Struct(out); err != nil {
		return ProductionOptions{}, fmt.Errorf("invalid production options: %w", err)
	}
	if _, ok := styles.Find(out.StyleID); !ok {
		return ProductionOptions{}, fmt.Errorf("invalid production options: unknown style %q", out.StyleID)
	}
	return out, nil
}

// Validate checks any struct carrying `validate` tags with the shared validator.
func Validate(v any) error {
	return validate.Struct(v)
}
