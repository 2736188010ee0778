package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"scene-studio/internal/access"
	"scene-studio/internal/assets"
	"scene-studio/internal/config"
	"scene-studio/internal/extract"
	"scene-studio/internal/generate"
	"scene-studio/internal/logger"
	"scene-studio/internal/queue"
	"scene-studio/internal/quota"
	"scene-studio/internal/store"
	"scene-studio/internal/studio"
	"scene-studio/internal/telemetry"
	workerproc "scene-studio/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.Open(ctx, cfg.StoreBackend, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()

	redisClient := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	ledger, err := quota.Open(cfg.LedgerBackend, redisClient)
	if err != nil {
		log.WithError(err).Fatal("open quota ledger")
	}
	gate := access.New(ledger, st, cfg.OwnerMasterCode, log)

	styles, err := config.LoadStyles(cfg.StylesFile)
	if err != nil {
		log.WithError(err).Fatal("load styles")
	}
	backend, err := assets.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("init asset storage")
	}

	deps := studio.Deps{
		Gate:      gate,
		Ledger:    ledger,
		Store:     st,
		Extractor: extract.SentenceSplitter{},
		Assets:    backend,
		Styles:    styles,
		Log:       log,
	}
	if cfg.GeminiAPIKey != "" {
		if err := wireModels(ctx, cfg, log, &deps); err != nil {
			log.WithError(err).Fatal("init generation backends")
		}
	} else {
		log.Warn("GEMINI_API_KEY is not set; productions will fail")
	}

	svc := studio.New(deps, studio.Options{
		APIKey:           cfg.GeminiAPIKey,
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		ItemTimeout:      cfg.ItemTimeout,
		ThumbnailWidth:   cfg.ThumbnailWidth,
	})

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}
	q := queue.NewRedisQueue(redisClient, cfg.ProductionQueue, cfg.VisibilityTimeout)
	processor := workerproc.NewProcessor(cfg, q, st, svc, log, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	log.WithFields(logrus.Fields{
		"worker":      workerID,
		"visibility":  cfg.VisibilityTimeout,
		"concurrency": cfg.ConcurrencyLimit,
	}).Info("worker started")
	if err := processor.Run(ctx); err != nil {
		log.WithError(err).Info("worker stopped")
	}
}

// wireModels picks the extraction and generation backends named in cfg.
func wireModels(ctx context.Context, cfg config.Config, log *logrus.Logger, deps *studio.Deps) error {
	var primary extract.Extractor
	switch strings.ToLower(cfg.ExtractorBackend) {
	case "", "gemini":
		g, err := extract.NewGemini(ctx, cfg.GeminiAPIKey, cfg.TextModel)
		if err != nil {
			return err
		}
		primary = g
	case "vertex":
		v, err := extract.NewVertex(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.TextModel)
		if err != nil {
			return err
		}
		primary = v
	case "sentence":
		primary = extract.SentenceSplitter{}
	default:
		return fmt.Errorf("unknown extractor backend %q", cfg.ExtractorBackend)
	}
	deps.Extractor = extract.Fallback{Primary: primary, Secondary: extract.SentenceSplitter{}, Log: log}

	gemini, err := generate.NewGemini(ctx, generate.GeminiConfig{
		APIKey:      cfg.GeminiAPIKey,
		ImageModel:  cfg.ImageModel,
		VideoModel:  cfg.VideoModel,
		SpeechModel: cfg.SpeechModel,
	})
	if err != nil {
		return err
	}
	deps.Motion = gemini
	switch strings.ToLower(cfg.VisualBackend) {
	case "", "gemini":
		deps.Generator = gemini
	case "pollinations":
		deps.Generator = generate.Combined{
			VisualGenerator:    generate.NewPollinations(generate.PollinationsConfig{Timeout: cfg.GeneratorTimeout}),
			NarrationGenerator: gemini,
		}
	default:
		return fmt.Errorf("unknown visual backend %q", cfg.VisualBackend)
	}
	return nil
}
