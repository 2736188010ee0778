package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scene-studio/internal/models"
)

func scenes(n int) []models.SceneDescriptor {
	out := make([]models.SceneDescriptor, n)
	for i := range out {
		out[i] = models.SceneDescriptor{Index: i, VisualPrompt: fmt.Sprintf("scene %d", i)}
	}
	return out
}

func TestRunPreservesOrderAndTerminates(t *testing.T) {
	in := scenes(13)
	run := Run(context.Background(), in, func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		// Finish later items first to shake out ordering bugs.
		time.Sleep(time.Duration(13-s.Index) * time.Millisecond)
		return Result{AssetRef: fmt.Sprintf("asset-%d", s.Index)}, nil
	}, Options{ConcurrencyLimit: 4})

	if len(run.Items) != 13 || run.TotalCount != 13 || run.CompletedCount != 13 {
		t.Fatalf("unexpected counts: items=%d total=%d completed=%d", len(run.Items), run.TotalCount, run.CompletedCount)
	}
	for i, it := range run.Items {
		if it.SourceIndex != i {
			t.Fatalf("item %d has source index %d", i, it.SourceIndex)
		}
		if it.Status != models.ItemSucceeded || it.AssetRef != fmt.Sprintf("asset-%d", i) {
			t.Fatalf("item %d unexpected: %+v", i, it)
		}
	}
}

func TestRunBoundsInFlight(t *testing.T) {
	const limit = 3
	var inFlight, peak int32
	Run(context.Background(), scenes(10), func(_ context.Context, _ models.SceneDescriptor) (Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: limit})

	if peak > limit {
		t.Fatalf("peak in-flight %d exceeds limit %d", peak, limit)
	}
}

func TestRunWindowsDrainInOrder(t *testing.T) {
	var mu sync.Mutex
	var started []int
	Run(context.Background(), scenes(6), func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		mu.Lock()
		started = append(started, s.Index)
		mu.Unlock()
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: 2})

	// Every item of window k starts before any item of window k+1.
	for pos, idx := range started {
		if idx/2 != pos/2 {
			t.Fatalf("item %d started at position %d, order %v", idx, pos, started)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	run := Run(context.Background(), scenes(5), func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		if s.Index == 2 {
			return Result{}, errors.New("boom")
		}
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: 2})

	for i, it := range run.Items {
		if i == 2 {
			if it.Status != models.ItemFailed || it.ErrorDetail != "boom" || it.AssetRef != "" {
				t.Fatalf("item 2 should fail with detail, got %+v", it)
			}
			continue
		}
		if it.Status != models.ItemSucceeded {
			t.Fatalf("item %d should succeed, got %+v", i, it)
		}
	}
	if len(run.Failed()) != 1 || len(run.Succeeded()) != 4 {
		t.Fatalf("unexpected split %d/%d", len(run.Succeeded()), len(run.Failed()))
	}
}

func TestRunProgressIsMonotone(t *testing.T) {
	progress := make(chan Progress, 20)
	run := Run(context.Background(), scenes(7), func(_ context.Context, _ models.SceneDescriptor) (Result, error) {
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: 3, Progress: progress})
	close(progress)

	last := 0
	seen := 0
	for p := range progress {
		seen++
		if p.Completed <= last || p.Total != 7 {
			t.Fatalf("non-monotone progress %+v after %d", p, last)
		}
		last = p.Completed
	}
	if seen != 7 || last != run.CompletedCount {
		t.Fatalf("expected 7 observations ending at %d, got %d ending at %d", run.CompletedCount, seen, last)
	}
}

func TestRunEmptyInput(t *testing.T) {
	called := false
	run := Run(context.Background(), nil, func(context.Context, models.SceneDescriptor) (Result, error) {
		called = true
		return Result{}, nil
	}, Options{})
	if called || len(run.Items) != 0 || run.TotalCount != 0 || run.CompletedCount != 0 {
		t.Fatalf("empty input should produce an empty complete run, got %+v", run)
	}
}

func TestRunTimesOutStalledItem(t *testing.T) {
	run := Run(context.Background(), scenes(3), func(ctx context.Context, s models.SceneDescriptor) (Result, error) {
		if s.Index == 1 {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return Result{}, ctx.Err()
		}
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: 3, ItemTimeout: 20 * time.Millisecond})

	if run.Items[1].Status != models.ItemFailed || run.Items[1].ErrorDetail != ErrTimeout.Error() {
		t.Fatalf("expected timeout failure, got %+v", run.Items[1])
	}
	if run.Items[0].Status != models.ItemSucceeded || run.Items[2].Status != models.ItemSucceeded {
		t.Fatalf("siblings should succeed: %+v", run.Items)
	}
}

func TestRunWaitsForTimedOutItemBeforeNextWindow(t *testing.T) {
	const limit = 2
	var inFlight, peak int32
	run := Run(context.Background(), scenes(6), func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if s.Index == 0 {
			// Ignores its context entirely.
			time.Sleep(100 * time.Millisecond)
			return Result{}, errors.New("too slow")
		}
		time.Sleep(5 * time.Millisecond)
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: limit, ItemTimeout: 20 * time.Millisecond})

	if peak > limit {
		t.Fatalf("peak in-flight %d exceeds limit %d", peak, limit)
	}
	if run.Items[0].Status != models.ItemFailed || run.Items[0].ErrorDetail != ErrTimeout.Error() {
		t.Fatalf("expected timeout failure, got %+v", run.Items[0])
	}
	if len(run.Succeeded()) != 5 {
		t.Fatalf("expected 5 successes, got %d", len(run.Succeeded()))
	}
}

func TestRunReportsFinalProgressAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := make(chan Progress)
	var observed []Progress
	drained := make(chan struct{})
	go func() {
		for p := range progress {
			observed = append(observed, p)
		}
		close(drained)
	}()

	run := Run(ctx, scenes(6), func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		if s.Index == 1 {
			cancel()
		}
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: 2, Progress: progress})
	close(progress)
	<-drained

	if len(observed) != run.TotalCount {
		t.Fatalf("expected %d observations, got %d", run.TotalCount, len(observed))
	}
	last := observed[len(observed)-1]
	if last.Completed != run.TotalCount || last.Total != run.TotalCount {
		t.Fatalf("last observation %+v, want %d/%d", last, run.TotalCount, run.TotalCount)
	}
}

func TestRunCancelledFailsUndispatched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	run := Run(ctx, scenes(4), func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		if s.Index == 1 {
			cancel()
		}
		return Result{AssetRef: "ok"}, nil
	}, Options{ConcurrencyLimit: 2})

	if run.CompletedCount != 4 {
		t.Fatalf("every item must be terminal, completed=%d", run.CompletedCount)
	}
	for _, i := range []int{2, 3} {
		if run.Items[i].Status != models.ItemFailed || run.Items[i].ErrorDetail != ErrCancelled.Error() {
			t.Fatalf("item %d should be cancelled, got %+v", i, run.Items[i])
		}
	}
}

func TestRunRecoversPanics(t *testing.T) {
	run := Run(context.Background(), scenes(2), func(_ context.Context, s models.SceneDescriptor) (Result, error) {
		if s.Index == 0 {
			panic("bad scene")
		}
		return Result{AssetRef: "ok"}, nil
	}, Options{})
	if run.Items[0].Status != models.ItemFailed || run.Items[1].Status != models.ItemSucceeded {
		t.Fatalf("unexpected items %+v", run.Items)
	}
}

func TestRetryOnce(t *testing.T) {
	var calls int32
	produce := RetryOnce(func(context.Context, models.SceneDescriptor) (Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return Result{}, errors.New("flaky")
		}
		return Result{AssetRef: "ok"}, nil
	})
	res, err := produce(context.Background(), models.SceneDescriptor{})
	if err != nil || res.AssetRef != "ok" || calls != 2 {
		t.Fatalf("expected success on second call, got %v calls=%d", err, calls)
	}

	calls = 0
	alwaysFail := RetryOnce(func(context.Context, models.SceneDescriptor) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, errors.New("down")
	})
	if _, err := alwaysFail(context.Background(), models.SceneDescriptor{}); err == nil || calls != 2 {
		t.Fatalf("expected failure after exactly two calls, got %v calls=%d", err, calls)
	}
}
