// Package studio runs one production end to end: preconditions, extraction,
// the batch pipeline with per-scene quota spend, and the saved project.
package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"scene-studio/internal/access"
	"scene-studio/internal/assets"
	"scene-studio/internal/config"
	"scene-studio/internal/extract"
	"scene-studio/internal/generate"
	"scene-studio/internal/models"
	"scene-studio/internal/pipeline"
	"scene-studio/internal/quota"
	"scene-studio/internal/store"
	"scene-studio/internal/telemetry"
)

var (
	// ErrMissingAPIKey is returned when no generation credential is configured.
	ErrMissingAPIKey = errors.New("studio: generation API key is not configured")
	// ErrEmptyRequest is returned when neither text nor title is given.
	ErrEmptyRequest = errors.New("studio: text or title is required")
	// ErrMotionUnavailable is returned for video productions without a motion backend.
	ErrMotionUnavailable = errors.New("studio: video mode is not available")
	// ErrNothingProduced is returned when every scene failed; no project is saved.
	ErrNothingProduced = errors.New("studio: no scene could be produced")
	// ErrAborted marks a production stopped by the quota ledger after some scenes were saved.
	ErrAborted = errors.New("studio: production aborted")
)

// Deps wires the collaborators of a Service.
type Deps struct {
	Gate      *access.Gate
	Ledger    quota.Ledger
	Store     store.Store
	Extractor extract.Extractor
	Generator generate.Generator
	// Motion is optional; video mode needs it.
	Motion generate.MotionGenerator
	Assets assets.Backend
	Styles config.StyleCatalog
	Log    *logrus.Logger
}

// Options holds the service-wide production settings.
type Options struct {
	APIKey           string
	ConcurrencyLimit int
	ItemTimeout      time.Duration
	ThumbnailWidth   int
}

// Service produces projects from submissions.
type Service struct {
	Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Service {
	if deps.Styles == nil {
		deps.Styles = config.DefaultStyles()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 320
	}
	return &Service{Deps: deps, opts: opts, now: time.Now}
}

// Submission is one production request with the caller's identity.
type Submission struct {
	// ProjectID is optional; a fresh id is used when empty.
	ProjectID string
	OwnerID   string
	AccessKey string
	Request   models.ProductionRequest
}

// ProgressFunc observes pipeline progress. It is called from a single goroutine.
type ProgressFunc func(pipeline.Progress)

// Produce runs a submission to completion.
//
// A quota rejection while scenes are running fails every scene not yet charged.
// Scenes already paid for run to completion and are kept, and the partial project
// is saved and returned together with the quota error.
func (s *Service) Produce(ctx context.Context, sub Submission, onProgress ProgressFunc) (models.Project, error) {
	if s.opts.APIKey == "" {
		return models.Project{}, ErrMissingAPIKey
	}
	req := sub.Request
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.Title) == "" {
		return models.Project{}, ErrEmptyRequest
	}
	opts, err := config.NewProductionOptions(config.ProductionOptions{
		AspectRatio:      req.AspectRatio,
		StyleID:          req.StyleID,
		VoiceID:          req.VoiceID,
		ConcurrencyLimit: firstPositive(req.Concurrency, s.opts.ConcurrencyLimit),
		Mode:             req.Mode,
		Silent:           req.Silent,
	}, s.Styles)
	if err != nil {
		return models.Project{}, err
	}
	if opts.Mode == config.ModeVideo && s.Motion == nil {
		return models.Project{}, ErrMotionUnavailable
	}

	acct, err := s.Gate.Authorize(ctx, sub.AccessKey)
	if err != nil {
		return models.Project{}, err
	}

	log := s.Log.WithFields(logrus.Fields{"owner": sub.OwnerID, "key_id": acct.ID, "mode": opts.Mode})

	text := req.Text
	titleMode := strings.TrimSpace(text) == ""
	if titleMode {
		w, ok := s.Extractor.(extract.ScriptWriter)
		if !ok {
			return models.Project{}, fmt.Errorf("draft script: %w", ErrEmptyRequest)
		}
		text, err = w.WriteScript(ctx, req.Title)
		if err != nil {
			return models.Project{}, fmt.Errorf("draft script: %w", err)
		}
	}

	scenes, err := s.Extractor.Extract(ctx, text)
	if err != nil {
		return models.Project{}, fmt.Errorf("extract scenes: %w", err)
	}

	perScene := quota.SceneUnits(opts.Mode)
	if !acct.Unlimited && !s.Gate.IsAdmin(ctx, sub.OwnerID) {
		need := int64(len(scenes)) * perScene
		if acct.UsedUnits+need > acct.MaxUnits {
			telemetry.QuotaRejects.WithLabelValues("estimate").Inc()
			return models.Project{}, fmt.Errorf("%w: production needs %d units, %d left", quota.ErrExhausted, need, acct.Remaining())
		}
	}

	projectID := sub.ProjectID
	if projectID == "" {
		projectID = uuid.NewString()
	}
	log = log.WithField("project", projectID)
	log.WithField("scenes", len(scenes)).Info("production started")

	var (
		spent    atomic.Int64
		quotaMu  sync.Mutex
		quotaErr error
	)
	// stopQuota reports the first quota rejection. Once set, scenes not yet
	// charged fail fast while scenes already paid for run to completion.
	stopQuota := func() error {
		quotaMu.Lock()
		defer quotaMu.Unlock()
		return quotaErr
	}
	generateScene := pipeline.RetryOnce(s.sceneProducer(projectID, opts))
	produce := func(ctx context.Context, scene models.SceneDescriptor) (pipeline.Result, error) {
		if err := stopQuota(); err != nil {
			return pipeline.Result{}, err
		}
		if err := s.Ledger.Consume(ctx, sub.AccessKey, perScene); err != nil {
			telemetry.QuotaRejects.WithLabelValues(quotaReason(err)).Inc()
			if isQuotaErr(err) {
				quotaMu.Lock()
				if quotaErr == nil {
					quotaErr = err
				}
				quotaMu.Unlock()
			}
			return pipeline.Result{}, err
		}
		spent.Add(perScene)
		telemetry.UnitsConsumed.Add(float64(perScene))
		return generateScene(ctx, scene)
	}

	run := runPipeline(ctx, scenes, produce, pipeline.Options{
		ConcurrencyLimit: opts.ConcurrencyLimit,
		ItemTimeout:      s.opts.ItemTimeout,
		Log:              log,
	}, onProgress)

	if minutes := ceilMinutes(spent.Load()); minutes > 0 && sub.OwnerID != "" {
		if err := s.Store.AddProductionMinutes(ctx, sub.OwnerID, minutes); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warn("failed to record production minutes")
		}
	}

	project := s.buildProject(ctx, projectID, sub.OwnerID, titleMode, req.Title, text, opts, run)
	log = log.WithFields(logrus.Fields{"succeeded": len(run.Succeeded()), "failed": len(run.Failed())})

	qe := stopQuota()
	if len(run.Succeeded()) == 0 {
		if qe != nil {
			return project, fmt.Errorf("production aborted: %w", qe)
		}
		log.Warn("production produced nothing")
		return project, ErrNothingProduced
	}
	if err := s.Store.SaveProject(ctx, sub.OwnerID, project); err != nil {
		return project, fmt.Errorf("save project: %w", err)
	}
	if qe != nil {
		log.WithError(qe).Warn("production aborted on quota, partial project saved")
		return project, fmt.Errorf("%w: %w", ErrAborted, qe)
	}
	log.Info("production finished")
	return project, nil
}

// runPipeline forwards progress to onProgress until the run returns.
func runPipeline(ctx context.Context, scenes []models.SceneDescriptor, produce pipeline.ProduceFunc, opts pipeline.Options, onProgress ProgressFunc) models.BatchRun {
	if onProgress == nil {
		return pipeline.Run(ctx, scenes, produce, opts)
	}
	ch := make(chan pipeline.Progress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range ch {
			onProgress(p)
		}
	}()
	opts.Progress = ch
	run := pipeline.Run(ctx, scenes, produce, opts)
	close(ch)
	<-done
	return run
}

// sceneProducer generates, in parallel, the visual and the narration of one scene and stores both.
// Generator errors are returned unwrapped so item error details carry the backend's own message.
func (s *Service) sceneProducer(projectID string, opts config.ProductionOptions) pipeline.ProduceFunc {
	return func(ctx context.Context, scene models.SceneDescriptor) (pipeline.Result, error) {
		prompt := s.Styles.Apply(opts.StyleID, scene.VisualPrompt)
		narrate := !opts.Silent && strings.TrimSpace(scene.NarrationText) != ""

		var visual, narration generate.Asset
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			if opts.Mode == config.ModeVideo {
				visual, err = s.Motion.GenerateMotion(gctx, prompt, opts.AspectRatio)
			} else {
				visual, err = s.Generator.GenerateVisual(gctx, prompt, opts.AspectRatio)
			}
			return err
		})
		if narrate {
			g.Go(func() error {
				var err error
				narration, err = s.Generator.GenerateNarration(gctx, scene.NarrationText, opts.VoiceID)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return pipeline.Result{}, err
		}

		kind := models.MediaImage
		if opts.Mode == config.ModeVideo {
			kind = models.MediaVideo
		}
		res := pipeline.Result{MediaKind: kind, DurationSeconds: defaultSceneSeconds}

		ref, err := s.Assets.Upload(ctx, assets.SceneKey(projectID, scene.Index, "visual", visual.MIMEType), visual.Data, visual.MIMEType)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("store visual: %w", err)
		}
		res.AssetRef = ref
		if narrate && len(narration.Data) > 0 {
			ref, err := s.Assets.Upload(ctx, assets.SceneKey(projectID, scene.Index, "narration", narration.MIMEType), narration.Data, narration.MIMEType)
			if err != nil {
				return pipeline.Result{}, fmt.Errorf("store narration: %w", err)
			}
			res.NarrationRef = ref
			if narration.DurationSeconds > 0 {
				res.DurationSeconds = narration.DurationSeconds
			}
		}
		return res, nil
	}
}

const defaultSceneSeconds = 5

func (s *Service) buildProject(ctx context.Context, id, ownerID string, titleMode bool, title, text string, opts config.ProductionOptions, run models.BatchRun) models.Project {
	p := models.Project{
		ID:                id,
		OwnerID:           ownerID,
		Title:             projectTitle(titleMode, title, text),
		Items:             run.Items,
		Mode:              opts.Mode,
		AspectRatio:       opts.AspectRatio,
		StyleID:           opts.StyleID,
		DefaultTransition: models.Transitions[0],
		CreatedAt:         s.now().UTC(),
	}
	if !opts.Silent {
		p.VoiceID = opts.VoiceID
	}
	for i := range p.Items {
		p.Items[i].Transition = models.Transitions[i%len(models.Transitions)]
		if p.Items[i].Status == models.ItemSucceeded {
			p.TotalDurationSeconds += p.Items[i].DurationSeconds
		}
	}
	p.CoverRef = s.cover(ctx, p)
	return p
}

// cover stores a thumbnail of the first finished still. Failures only cost the cover.
func (s *Service) cover(ctx context.Context, p models.Project) string {
	for _, it := range p.Items {
		if it.Status != models.ItemSucceeded || it.MediaKind != models.MediaImage {
			continue
		}
		data, err := s.Assets.Download(ctx, it.AssetRef)
		if err == nil {
			data, err = assets.Thumbnail(data, s.opts.ThumbnailWidth)
		}
		if err == nil {
			var ref string
			ref, err = s.Assets.Upload(ctx, fmt.Sprintf("projects/%s/cover.jpg", p.ID), data, "image/jpeg")
			if err == nil {
				return ref
			}
		}
		s.Log.WithError(err).WithField("project", p.ID).Warn("cover thumbnail skipped")
		return ""
	}
	return ""
}

func projectTitle(titleMode bool, title, text string) string {
	if titleMode {
		return strings.TrimSpace(title)
	}
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= 30 {
		return text
	}
	return string([]rune(text)[:30]) + "..."
}

func isQuotaErr(err error) bool {
	return errors.Is(err, quota.ErrExhausted) || errors.Is(err, quota.ErrBanned) || errors.Is(err, quota.ErrNotFound)
}

func quotaReason(err error) string {
	switch {
	case errors.Is(err, quota.ErrExhausted):
		return "exhausted"
	case errors.Is(err, quota.ErrBanned):
		return "banned"
	case errors.Is(err, quota.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func ceilMinutes(seconds int64) int {
	if seconds <= 0 {
		return 0
	}
	return int((seconds + 59) / 60)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
