// Package worker leases production jobs from the queue and runs them through the studio.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"scene-studio/internal/access"
	"scene-studio/internal/config"
	"scene-studio/internal/extract"
	"scene-studio/internal/models"
	"scene-studio/internal/pipeline"
	"scene-studio/internal/queue"
	"scene-studio/internal/quota"
	"scene-studio/internal/store"
	"scene-studio/internal/studio"
	"scene-studio/internal/telemetry"
)

// Queue is the part of queue.RedisQueue the processor drives.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, productionID string, extension time.Duration) error
	Ack(ctx context.Context, productionID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	DeadLetter(ctx context.Context, productionID string) error
	ReadyDepth(ctx context.Context) (int64, error)
	PublishProgress(ctx context.Context, ev queue.ProgressEvent) error
}

// Productions reads and updates production records.
type Productions interface {
	GetProduction(ctx context.Context, id string) (models.Production, error)
	UpdateProduction(ctx context.Context, p models.Production) error
}

// Producer runs one submission.
type Producer interface {
	Produce(ctx context.Context, sub studio.Submission, onProgress studio.ProgressFunc) (models.Project, error)
}

// Processor drives the worker execution loop.
type Processor struct {
	queue        Queue
	store        Productions
	producer     Producer
	log          *logrus.Logger
	pollInterval time.Duration
	visibility   time.Duration
	workerID     string
	now          func() time.Time
}

func NewProcessor(cfg config.Config, q Queue, st Productions, producer Producer, log *logrus.Logger, workerID string) *Processor {
	poll := cfg.WorkerPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Minute
	}
	return &Processor{
		queue:        q,
		store:        st,
		producer:     producer,
		log:          log,
		pollInterval: poll,
		visibility:   visibility,
		workerID:     workerID,
		now:          time.Now,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := p.queue.RequeueExpired(ctx, p.now(), 100); err == nil && len(reclaimed) > 0 {
			p.log.WithField("productions", reclaimed).Warn("reclaimed expired leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		id, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			p.log.WithError(err).Warn("dequeue failed")
		}
		if err != nil || id == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.Process(ctx, id)
		telemetry.InFlightGauge.Dec()
	}
}

// Process runs one leased production and releases its lease.
//
// A production found already running was abandoned by a worker that died mid-run.
// Its quota may be partly spent, so it is failed and dead-lettered rather than rerun.
func (p *Processor) Process(ctx context.Context, id string) {
	log := p.log.WithFields(logrus.Fields{"production": id, "worker": p.workerID})
	defer func() {
		if err := p.queue.Ack(ctx, id); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	}()

	prod, err := p.store.GetProduction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("dropping unknown production")
		return
	}
	if err != nil {
		log.WithError(err).Error("load production")
		return
	}
	if prod.Terminal() {
		return
	}
	if prod.Status == models.ProductionRunning {
		if err := p.queue.DeadLetter(ctx, id); err != nil {
			log.WithError(err).Warn("dead letter failed")
		}
		p.finish(ctx, log, prod, models.Project{}, errors.New("worker lost the production"))
		return
	}

	prod.Status = models.ProductionRunning
	prod.UpdatedAt = p.now().UTC()
	if err := p.store.UpdateProduction(ctx, prod); err != nil {
		log.WithError(err).Error("mark production running")
		return
	}
	p.publish(ctx, log, prod)

	project, err := p.produce(ctx, prod, func(pr pipeline.Progress) {
		prod.CompletedCount = pr.Completed
		prod.TotalCount = pr.Total
		prod.UpdatedAt = p.now().UTC()
		if err := p.store.UpdateProduction(ctx, prod); err != nil {
			log.WithError(err).Warn("progress update failed")
		}
		if err := p.queue.ExtendLease(ctx, id, p.visibility); err != nil {
			log.WithError(err).Warn("extend lease failed")
		}
		p.publish(ctx, log, prod)
	})
	p.finish(ctx, log, prod, project, err)
}

func (p *Processor) produce(ctx context.Context, prod models.Production, onProgress studio.ProgressFunc) (project models.Project, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.producer.Produce(ctx, studio.Submission{
		ProjectID: prod.ID,
		OwnerID:   prod.OwnerID,
		AccessKey: prod.AccessKey,
		Request:   prod.Request,
	}, onProgress)
}

func (p *Processor) finish(ctx context.Context, log *logrus.Entry, prod models.Production, project models.Project, err error) {
	prod.UpdatedAt = p.now().UTC()
	switch {
	case err == nil:
		prod.Status = models.ProductionCompleted
		prod.ProjectID = project.ID
		prod.Error = ""
		log.WithField("project", project.ID).Info("production completed")
	default:
		prod.Status = models.ProductionFailed
		prod.Error = PublicError(err)
		if errors.Is(err, studio.ErrAborted) {
			prod.ProjectID = project.ID
		}
		log.WithError(err).Warn("production failed")
	}
	telemetry.ProductionsFinished.WithLabelValues(prod.Status).Inc()
	if err := p.store.UpdateProduction(ctx, prod); err != nil {
		log.WithError(err).Error("record production outcome")
	}
	p.publish(ctx, log, prod)
}

func (p *Processor) publish(ctx context.Context, log *logrus.Entry, prod models.Production) {
	err := p.queue.PublishProgress(ctx, queue.ProgressEvent{
		ProductionID: prod.ID,
		Status:       prod.Status,
		Completed:    prod.CompletedCount,
		Total:        prod.TotalCount,
		ProjectID:    prod.ProjectID,
		Error:        prod.Error,
	})
	if err != nil {
		log.WithError(err).Debug("publish progress failed")
	}
}

var publicErrors = []error{
	studio.ErrMissingAPIKey,
	studio.ErrEmptyRequest,
	studio.ErrMotionUnavailable,
	studio.ErrNothingProduced,
	studio.ErrAborted,
	access.ErrNotFound,
	access.ErrRevoked,
	access.ErrExhausted,
	quota.ErrExhausted,
	quota.ErrBanned,
	quota.ErrNotFound,
	extract.ErrEmpty,
}

// PublicError returns the message shown to users for err. Errors outside the
// known taxonomy are reported generically.
func PublicError(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "production failed unexpectedly, please try again"
}
