// Package pipeline runs scene production in bounded, ordered windows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"scene-studio/internal/models"
	"scene-studio/internal/telemetry"
)

const (
	DefaultConcurrencyLimit = 6
	DefaultItemTimeout      = 3 * time.Minute
)

var (
	// ErrTimeout marks an item whose produce call outlived the item timeout.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled marks an item that never ran or was cut short because the run was cancelled.
	ErrCancelled = errors.New("cancelled")
)

// Progress is emitted after every item reaches a terminal state.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Result carries the asset references of one successful produce call.
type Result struct {
	AssetRef        string
	NarrationRef    string
	MediaKind       string
	DurationSeconds float64
}

// ProduceFunc generates the assets for one scene.
type ProduceFunc func(ctx context.Context, scene models.SceneDescriptor) (Result, error)

// Options tunes a run. Zero values fall back to the defaults.
type Options struct {
	ConcurrencyLimit int
	ItemTimeout      time.Duration
	// Progress, when set, receives one observation per finished item.
	// Sends block until received or the run context is done.
	Progress chan<- Progress
	Log      *logrus.Entry
}

// Run produces every scene and returns the complete batch, items in input order.
//
// Scenes are processed in consecutive windows of ConcurrencyLimit; items within
// a window run concurrently and the next window starts only after the previous
// one has fully drained. A failing item never aborts its siblings or later
// windows. When ctx is cancelled, items not yet dispatched fail as cancelled.
func Run(ctx context.Context, scenes []models.SceneDescriptor, produce ProduceFunc, opts Options) models.BatchRun {
	limit := opts.ConcurrencyLimit
	if limit <= 0 {
		limit = DefaultConcurrencyLimit
	}
	timeout := opts.ItemTimeout
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}

	run := models.BatchRun{
		Items:            make([]models.ProducedItem, len(scenes)),
		ConcurrencyLimit: limit,
		TotalCount:       len(scenes),
	}
	for i, s := range scenes {
		run.Items[i] = models.ProducedItem{
			ID:            uuid.NewString(),
			SourceIndex:   i,
			Status:        models.ItemPending,
			Prompt:        s.VisualPrompt,
			ScriptSegment: s.NarrationText,
		}
	}

	var mu sync.Mutex
	finish := func(i int, res Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		item := &run.Items[i]
		if err != nil {
			item.Status = models.ItemFailed
			item.ErrorDetail = err.Error()
		} else {
			item.Status = models.ItemSucceeded
			item.AssetRef = res.AssetRef
			item.NarrationRef = res.NarrationRef
			item.MediaKind = res.MediaKind
			item.DurationSeconds = res.DurationSeconds
		}
		telemetry.ItemOutcomes.WithLabelValues(string(item.Status)).Inc()
		run.CompletedCount++
		if opts.Progress != nil {
			opts.Progress <- Progress{Completed: run.CompletedCount, Total: run.TotalCount}
		}
	}

	for start := 0; start < len(scenes); start += limit {
		end := start + limit
		if end > len(scenes) {
			end = len(scenes)
		}
		if ctx.Err() != nil {
			for i := start; i < len(scenes); i++ {
				finish(i, Result{}, ErrCancelled)
			}
			break
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				started := time.Now()
				res, err := runItem(ctx, produce, scenes[i], timeout)
				telemetry.ItemDuration.Observe(time.Since(started).Seconds())
				if err != nil {
					log.WithFields(logrus.Fields{"index": i, "error": err.Error()}).Warn("scene production failed")
				}
				finish(i, res, err)
				return nil
			})
		}
		_ = g.Wait()
	}
	return run
}

// runItem bounds one produce call by the item timeout. The call always runs to
// completion before the item is settled, so a window never drains while one of
// its calls is still working. An error returned after the item context expired
// is reported as a timeout, or as cancelled when the run itself was cancelled.
func runItem(ctx context.Context, produce ProduceFunc, scene models.SceneDescriptor, timeout time.Duration) (res Result, err error) {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("panic: %v", r)
		}
	}()

	res, err = produce(itemCtx, scene)
	if err == nil || itemCtx.Err() == nil {
		return res, err
	}
	if ctx.Err() != nil {
		return Result{}, ErrCancelled
	}
	return Result{}, ErrTimeout
}
