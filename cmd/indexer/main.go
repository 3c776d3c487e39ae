package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veeky/veeky-indexer/internal/api"
	"github.com/veeky/veeky-indexer/internal/config"
	"github.com/veeky/veeky-indexer/internal/db"
	"github.com/veeky/veeky-indexer/internal/enrich"
	"github.com/veeky/veeky-indexer/internal/logging"
	"github.com/veeky/veeky-indexer/internal/media"
	"github.com/veeky/veeky-indexer/internal/pipeline"
	"github.com/veeky/veeky-indexer/internal/search"
	"github.com/veeky/veeky-indexer/internal/transcribe"
	"github.com/veeky/veeky-indexer/internal/video"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional; environment variables win over .env entries.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir(), 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting veeky indexer", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := video.NewRepository(database.Conn())

	workerID, err := ensureWorkerID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure worker id: %w", err)
	}

	ffmpeg, err := media.NewFFmpeg(cfg.FFmpegPath(), cfg.FFprobePath(), cfg.ProbeTimeout(), cfg.AnalyzeTimeout(), logging.WithComponent(logger, "media"))
	if err != nil {
		return fmt.Errorf("media tooling unavailable: %w", err)
	}
	analyzer := media.NewAnalyzer(ffmpeg, media.Config{
		WorkDir:          cfg.WorkDir(),
		KeyframeInterval: cfg.KeyframeInterval(),
		SceneThreshold:   cfg.SceneThreshold(),
		MinSegmentSec:    cfg.MinSegmentSec(),
		MaxSegmentSec:    cfg.MaxSegmentSec(),
		SilenceNoise:     cfg.SilenceNoise(),
		SilenceDuration:  cfg.SilenceDuration(),
	}, logging.WithComponent(logger, "media"))

	transcriber, err := transcribe.NewWhisperCLI(cfg.WhisperPath(), cfg.WhisperModel(), cfg.TranscribeTimeout(), logging.WithComponent(logger, "transcribe"))
	if err != nil {
		return fmt.Errorf("whisper unavailable: %w", err)
	}

	ollama := enrich.NewClient(cfg.OllamaBaseURL(), cfg.OllamaTimeout(), logging.WithComponent(logger, "enrich"))
	enricher := enrich.NewEnricher(ollama, logging.WithComponent(logger, "enrich"))

	indexer, err := search.NewIndexer(search.Config{
		Address:  cfg.SearchAddress(),
		Username: cfg.SearchUsername(),
		Password: cfg.SearchPassword(),
		Index:    cfg.SearchIndex(),
		Timeout:  cfg.SearchTimeout(),
	}, logging.WithComponent(logger, "search"))
	if err != nil {
		return fmt.Errorf("failed to create search client: %w", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := indexer.EnsureIndex(initCtx); err != nil {
		logger.Warn("search index not ready, indexing will retry per job", "error", err)
	}
	initCancel()

	orchestrator := pipeline.NewOrchestrator(
		repo, analyzer, ffmpeg, transcriber, enricher, indexer,
		pipeline.Options{
			Owner:          workerID,
			LeaseTTL:       cfg.LeaseTTL(),
			SegmentWorkers: cfg.SegmentWorkers(),
			WorkDir:        cfg.WorkDir(),
			IndexRetry: pipeline.RetryPolicy{
				MaxAttempts: cfg.IndexAttempts(),
				InitialWait: cfg.RetryInitialWait(),
			},
			TranscribeRetry: pipeline.RetryPolicy{
				MaxAttempts: cfg.TranscribeAttempts(),
				InitialWait: cfg.RetryInitialWait(),
			},
			EnrichRetry: pipeline.RetryPolicy{
				MaxAttempts: cfg.EnrichAttempts(),
				InitialWait: cfg.RetryInitialWait(),
			},
			SnapshotDefaults: video.SnapshotDefaults{
				TextModel:   cfg.TextModel(),
				VisionModel: cfg.VisionModel(),
				EmbedModel:  cfg.EmbedModel(),
			},
		},
		logging.WithComponent(logger, "pipeline"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := pipeline.NewDispatcher(repo, orchestrator, cfg.JobWorkers(),
		cfg.DispatchInterval(), cfg.SweepInterval(), logging.WithComponent(logger, "dispatcher"))
	go dispatcher.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Repository: repo,
		Dispatcher: dispatcher,
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
		Version:    config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureWorkerID loads or creates the stable identity used as the lease
// owner, so a restarted process can tell its own stale leases apart.
func ensureWorkerID(repo video.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "worker_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	workerID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "worker_id", workerID); err != nil {
		return "", err
	}

	return workerID, nil
}
