package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/autoshop-labs/invoice-pipeline/internal/async"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/export"
	"github.com/autoshop-labs/invoice-pipeline/internal/phone"
	"github.com/autoshop-labs/invoice-pipeline/internal/pipeline"
	"github.com/autoshop-labs/invoice-pipeline/internal/posting"
	"github.com/autoshop-labs/invoice-pipeline/internal/recognition"
	"github.com/autoshop-labs/invoice-pipeline/internal/repository"
	"github.com/autoshop-labs/invoice-pipeline/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	backend := recognition.NewTesseractBackend(recognition.Config{
		Tesseract:     cfg.OCR.Tesseract,
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		TesseractLang: cfg.OCR.TesseractLang,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
	}, logger)
	engine := recognition.NewEngine(backend, logger,
		recognition.WithPoolSize(cfg.OCR.PoolSize),
		recognition.WithRecognizeTimeout(cfg.OCR.RecognizeTimeout),
	)
	defer engine.Shutdown()

	processor := pipeline.NewProcessor(repo, engine, nil, logger)
	queue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.OCR.Workers),
		async.WithQueueSize(cfg.OCR.QueueSize),
	)

	posters := []posting.Poster{
		posting.NewQuickBooksPoster(cfg.Posting.QuickBooksEndpoint, cfg.Posting.CallTimeout, logger),
		posting.NewCCCPoster(cfg.Posting.CCCEndpoint, cfg.Posting.CallTimeout, logger),
	}
	orchestrator := posting.NewOrchestrator(repo, posters, cfg.Posting.CallTimeout, logger)

	exporter := export.NewService(repo, logger)
	phones := phone.NewService(cfg.Phone.Region, cfg.Phone.TTL, logger)
	phones.Start(ctx)

	srv := server.New(cfg.Server, repo, queue, orchestrator, exporter, phones, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

// openStore picks the repository by driver. The returned cleanup closes
// the underlying connections.
func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.InvoiceRepository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := repository.OpenPostgres(ctx, repository.PoolConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewPostgresRepository(pool, logger)
		if err := repo.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		repo, err := repository.OpenSQLite(cfg.Database.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {
			if cerr := repo.Close(); cerr != nil {
				logger.Error("close sqlite", "error", cerr)
			}
		}, nil
	}
}
