package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidserve/api"
	"vidserve/config"
	"vidserve/ffmpeg"
	"vidserve/logging"
	"vidserve/notify"
	"vidserve/pipeline"
	"vidserve/store"
	"vidserve/task"
	"vidserve/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	defer logging.Sync()

	for _, dir := range []string{cfg.ChunksDir(), cfg.VideosDir(), cfg.ThumbnailsDir(), cfg.PackagesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logging.Fatalf("Failed to open database: %v", err)
	}
	sessions := store.NewSessionStore(db)
	videos := store.NewVideoStore(db)

	runner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		logging.Fatalf("Failed to initialize ffmpeg runner: %v", err)
	}

	webhook := notify.New(cfg.WebhookURL, &http.Client{Timeout: cfg.WebhookTimeout})
	processor := pipeline.New(cfg, videos, runner, webhook)
	manager := task.NewManager(cfg, processor, runner)

	chunks, err := upload.NewChunkStore(cfg.ChunksDir())
	if err != nil {
		logging.Fatalf("Failed to initialize chunk storage: %v", err)
	}
	assembler, err := upload.NewAssembler(chunks, cfg.VideosDir())
	if err != nil {
		logging.Fatalf("Failed to initialize assembler: %v", err)
	}
	registry := upload.NewRegistry(cfg, sessions, videos, chunks, assembler, manager)

	handler := api.NewHandler(cfg, registry, videos, manager)
	router := api.NewRouter(cfg, handler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)

	go func() {
		logging.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	logging.Infof("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server forced to shutdown: %v", err)
	}

	if err := manager.Close(cfg.ShutdownGrace); err != nil {
		logging.Warnf("Task drain incomplete: %v", err)
	}

	logging.Infof("Server exiting")
}
