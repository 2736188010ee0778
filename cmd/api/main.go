package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scene-studio/internal/access"
	"scene-studio/internal/api"
	"scene-studio/internal/assets"
	"scene-studio/internal/config"
	"scene-studio/internal/logger"
	"scene-studio/internal/queue"
	"scene-studio/internal/quota"
	"scene-studio/internal/ratelimit"
	"scene-studio/internal/store"
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
	if err := gate.EnsureOwnerKey(ctx); err != nil {
		log.WithError(err).Fatal("bootstrap owner key")
	}

	styles, err := config.LoadStyles(cfg.StylesFile)
	if err != nil {
		log.WithError(err).Fatal("load styles")
	}
	backend, err := assets.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("init asset storage")
	}

	server := api.New(api.Deps{
		Config:  cfg,
		Store:   st,
		Gate:    gate,
		Ledger:  ledger,
		Queue:   queue.NewRedisQueue(redisClient, cfg.ProductionQueue, cfg.VisibilityTimeout),
		Limiter: ratelimit.NewLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour),
		Assets:  backend,
		Styles:  styles,
		Log:     log,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set; productions will be refused")
	}
	log.WithField("port", cfg.HTTPPort).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
