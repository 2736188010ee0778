package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scene-studio/internal/config"
	"scene-studio/internal/logger"
	"scene-studio/internal/models"
	"scene-studio/internal/pipeline"
	"scene-studio/internal/queue"
	"scene-studio/internal/store"
	"scene-studio/internal/studio"
)

type fakeQueue struct {
	mu     sync.Mutex
	acked  []string
	dead   []string
	events []queue.ProgressEvent
}

func (q *fakeQueue) DequeueWithLease(context.Context) (string, error) { return "", nil }
func (q *fakeQueue) ExtendLease(context.Context, string, time.Duration) error {
	return nil
}
func (q *fakeQueue) RequeueExpired(context.Context, time.Time, int64) ([]string, error) {
	return nil, nil
}
func (q *fakeQueue) ReadyDepth(context.Context) (int64, error) { return 0, nil }

func (q *fakeQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) DeadLetter(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, id)
	return nil
}

func (q *fakeQueue) PublishProgress(_ context.Context, ev queue.ProgressEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

type producerFunc func(ctx context.Context, sub studio.Submission, onProgress studio.ProgressFunc) (models.Project, error)

func (f producerFunc) Produce(ctx context.Context, sub studio.Submission, onProgress studio.ProgressFunc) (models.Project, error) {
	return f(ctx, sub, onProgress)
}

func setup(t *testing.T, status string, producer Producer) (*Processor, *fakeQueue, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	err := st.CreateProduction(context.Background(), models.Production{
		ID:        "prod-1",
		OwnerID:   "USR-1",
		AccessKey: "PRO-TEST",
		Request:   models.ProductionRequest{Text: "A cat sleeps. A dog barks."},
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create production: %v", err)
	}
	q := &fakeQueue{}
	return NewProcessor(config.Config{}, q, st, producer, logger.Discard(), "w1"), q, st
}

func TestProcessCompletesProduction(t *testing.T) {
	var got studio.Submission
	proc, q, st := setup(t, models.ProductionQueued, producerFunc(func(_ context.Context, sub studio.Submission, onProgress studio.ProgressFunc) (models.Project, error) {
		got = sub
		onProgress(pipeline.Progress{Completed: 1, Total: 2})
		onProgress(pipeline.Progress{Completed: 2, Total: 2})
		return models.Project{ID: sub.ProjectID}, nil
	}))

	proc.Process(context.Background(), "prod-1")

	if got.AccessKey != "PRO-TEST" || got.OwnerID != "USR-1" || got.ProjectID != "prod-1" {
		t.Fatalf("unexpected submission %+v", got)
	}
	prod, _ := st.GetProduction(context.Background(), "prod-1")
	if prod.Status != models.ProductionCompleted || prod.ProjectID != "prod-1" || prod.CompletedCount != 2 || prod.TotalCount != 2 {
		t.Fatalf("unexpected production %+v", prod)
	}
	if len(q.acked) != 1 {
		t.Fatalf("expected one ack, got %v", q.acked)
	}
	// running, two progress ticks, completed
	if len(q.events) != 4 || q.events[3].Status != models.ProductionCompleted {
		t.Fatalf("unexpected events %+v", q.events)
	}
	for i := 1; i < len(q.events); i++ {
		if q.events[i].Completed < q.events[i-1].Completed {
			t.Fatalf("progress went backwards: %+v", q.events)
		}
	}
}

func TestProcessFailsAbandonedProduction(t *testing.T) {
	called := false
	proc, q, st := setup(t, models.ProductionRunning, producerFunc(func(context.Context, studio.Submission, studio.ProgressFunc) (models.Project, error) {
		called = true
		return models.Project{}, nil
	}))

	proc.Process(context.Background(), "prod-1")

	if called {
		t.Fatalf("abandoned production must not rerun")
	}
	prod, _ := st.GetProduction(context.Background(), "prod-1")
	if prod.Status != models.ProductionFailed {
		t.Fatalf("expected failed, got %s", prod.Status)
	}
	if len(q.dead) != 1 || len(q.acked) != 1 {
		t.Fatalf("expected dead letter and ack, got dead=%v acked=%v", q.dead, q.acked)
	}
}

func TestProcessReportsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"known", studio.ErrMissingAPIKey, studio.ErrMissingAPIKey.Error()},
		{"unexpected", errors.New("dial tcp 10.0.0.1:5432: connection refused"), "production failed unexpectedly, please try again"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proc, _, st := setup(t, models.ProductionQueued, producerFunc(func(context.Context, studio.Submission, studio.ProgressFunc) (models.Project, error) {
				return models.Project{}, tc.err
			}))
			proc.Process(context.Background(), "prod-1")
			prod, _ := st.GetProduction(context.Background(), "prod-1")
			if prod.Status != models.ProductionFailed || prod.Error != tc.want {
				t.Fatalf("unexpected production %+v", prod)
			}
		})
	}
}

func TestProcessRecoversPanics(t *testing.T) {
	proc, q, st := setup(t, models.ProductionQueued, producerFunc(func(context.Context, studio.Submission, studio.ProgressFunc) (models.Project, error) {
		panic("boom")
	}))
	proc.Process(context.Background(), "prod-1")
	prod, _ := st.GetProduction(context.Background(), "prod-1")
	if prod.Status != models.ProductionFailed {
		t.Fatalf("expected failed, got %s", prod.Status)
	}
	if len(q.acked) != 1 {
		t.Fatalf("lease should be released")
	}
}

func TestProcessKeepsPartialProject(t *testing.T) {
	proc, _, st := setup(t, models.ProductionQueued, producerFunc(func(_ context.Context, sub studio.Submission, _ studio.ProgressFunc) (models.Project, error) {
		return models.Project{ID: sub.ProjectID}, studio.ErrAborted
	}))
	proc.Process(context.Background(), "prod-1")
	prod, _ := st.GetProduction(context.Background(), "prod-1")
	if prod.Status != models.ProductionFailed || prod.ProjectID != "prod-1" {
		t.Fatalf("partial project should be linked: %+v", prod)
	}
}
