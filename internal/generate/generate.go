// Package generate wraps the external media generators: stills, motion clips and narration.
package generate

import (
	"context"
	"fmt"
)

// Asset is one generated binary with its media type.
type Asset struct {
	Data     []byte
	MIMEType string
	// DurationSeconds is set for audio and video assets when known.
	DurationSeconds float64
}

type VisualGenerator interface {
	GenerateVisual(ctx context.Context, prompt, aspectRatio string) (Asset, error)
}

type NarrationGenerator interface {
	GenerateNarration(ctx context.Context, text, voiceID string) (Asset, error)
}

// MotionGenerator produces short video clips for video-mode productions.
type MotionGenerator interface {
	GenerateMotion(ctx context.Context, prompt, aspectRatio string) (Asset, error)
}

// Generator produces both halves of a scene.
type Generator interface {
	VisualGenerator
	NarrationGenerator
}

// Combined pairs independent visual and narration backends.
type Combined struct {
	VisualGenerator
	NarrationGenerator
}

// GenError is returned by every generator call.
type GenError struct {
	Op  string
	Err error
}

func (e *GenError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *GenError) Unwrap() error { return e.Err }

func genErr(op string, err error) error {
	return &GenError{Op: op, Err: err}
}
