// Package playback turns a finished project into a looping, timed slideshow.
package playback

import (
	"context"
	"time"

	"scene-studio/internal/models"
)

const (
	// DefaultSceneDuration applies to scenes without narration.
	DefaultSceneDuration = 5 * time.Second
	// TransitionDuration is how long the incoming scene's transition runs.
	TransitionDuration = 1500 * time.Millisecond
)

// Cue is one scene on the timeline.
type Cue struct {
	Position     int           `json:"position"`
	ItemID       string        `json:"itemId"`
	SourceIndex  int           `json:"sourceIndex"`
	Start        time.Duration `json:"start"`
	Duration     time.Duration `json:"duration"`
	Transition   string        `json:"transition"`
	TransitionIn time.Duration `json:"transitionIn"`
	MediaKind    string        `json:"mediaKind"`
	AssetRef     string        `json:"assetRef"`
	NarrationRef string        `json:"narrationRef,omitempty"`
	Caption      string        `json:"caption,omitempty"`
}

// Timeline is the ordered cue list of a project. Playback loops after Total.
type Timeline struct {
	ProjectID string        `json:"projectId"`
	Cues      []Cue         `json:"cues"`
	Total     time.Duration `json:"total"`
}

// Build lays out the succeeded items of p in source order. Failed items are skipped.
// A scene lasts as long as its narration, or DefaultSceneDuration without one.
func Build(p models.Project) Timeline {
	tl := Timeline{ProjectID: p.ID}
	var at time.Duration
	for _, it := range p.Items {
		if it.Status != models.ItemSucceeded {
			continue
		}
		d := DefaultSceneDuration
		if it.NarrationRef != "" && it.DurationSeconds > 0 {
			d = time.Duration(it.DurationSeconds * float64(time.Second))
		}
		transition := it.Transition
		if transition == "" {
			transition = p.DefaultTransition
		}
		if transition == "" {
			transition = "fade"
		}
		tl.Cues = append(tl.Cues, Cue{
			Position:     len(tl.Cues),
			ItemID:       it.ID,
			SourceIndex:  it.SourceIndex,
			Start:        at,
			Duration:     d,
			Transition:   transition,
			TransitionIn: minDuration(TransitionDuration, d),
			MediaKind:    it.MediaKind,
			AssetRef:     it.AssetRef,
			NarrationRef: it.NarrationRef,
			Caption:      it.ScriptSegment,
		})
		at += d
	}
	tl.Total = at
	return tl
}

// At returns the cue showing at elapsed time, wrapping around the end of the timeline.
func (t Timeline) At(elapsed time.Duration) (Cue, bool) {
	if len(t.Cues) == 0 || t.Total <= 0 {
		return Cue{}, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	elapsed %= t.Total
	for _, c := range t.Cues {
		if elapsed < c.Start+c.Duration {
			return c, true
		}
	}
	return t.Cues[len(t.Cues)-1], true
}

// Play emits each cue as it starts, looping until ctx is done. Speed scales wall time;
// 1 is real time. It returns ctx.Err() when stopped and nil for an empty timeline.
func (t Timeline) Play(ctx context.Context, speed float64, out chan<- Cue) error {
	if len(t.Cues) == 0 {
		return nil
	}
	if speed <= 0 {
		speed = 1
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for i := 0; ; i = (i + 1) % len(t.Cues) {
		c := t.Cues[i]
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
		timer.Reset(time.Duration(float64(c.Duration) / speed))
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
