package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sslv-scraper/config"
	"sslv-scraper/fetcher"
	"sslv-scraper/models"
	"sslv-scraper/scraper/sslv"
	"sslv-scraper/services"
	"sslv-scraper/storage"
	"sslv-scraper/utils"
)

const source = "ss.lv"

func main() {
	os.Exit(run())
}

func run() int {
	logger := utils.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger.Info("=== ss.lv flats scraper starting (run %s) ===", runID)
	logger.Info("Config: pages: %d | fetch: %s | concurrency: %d | delay: %v | sink: %s",
		len(cfg.SearchPageList()), cfg.FetchMode, cfg.MaxConcurrency, cfg.RequestDelay, cfg.Sink)

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay, Logger: logger}

	base, closeFetcher, err := newFetcher(cfg, retry, logger)
	if err != nil {
		logger.Error("Fetcher unavailable: %v", err)
		return 1
	}
	defer closeFetcher()
	f := fetcher.WithLimiter(base, utils.NewSpacingLimiter(cfg.RequestDelay))

	s := sslv.New(sslv.Options{
		SearchPages:    cfg.SearchPageList(),
		Origin:         cfg.SiteOrigin,
		Marker:         cfg.ListingMarker,
		MaxListings:    cfg.MaxListings,
		MaxConcurrency: cfg.MaxConcurrency,
		RunID:          runID,
	}, f, services.NewNormalizer(logger), logger)

	if cfg.RawCSVPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.RawCSVPath)
		if err != nil {
			logger.Error("Failed to create CSV writer: %v", err)
			return 1
		}
		defer csvWriter.Close()
		s.WithRawRecorder(csvWriter)
	}

	out, err := s.Run(ctx)
	if err != nil {
		logger.Error("Scrape failed: %v", err)
	}
	if out == nil || out.Len() == 0 {
		logger.Error("No listings were scraped. Exiting.")
		return 1
	}

	insightSvc := services.NewInsightService(logger)
	insightSvc.Print(os.Stdout, insightSvc.Generate(out))

	body, err := storage.EncodeRunOutput(out, cfg.Encoding)
	if err != nil {
		logger.Error("Encoding failed: %v", err)
		return 1
	}

	sink, err := newSink(ctx, cfg, retry, logger)
	if err != nil {
		logger.Error("Sink unavailable: %v", err)
		sink = nil
	} else {
		defer sink.Close()
	}

	artifact := storage.Artifact{
		Name:        storage.ArtifactName(cfg.DatasetPrefix, out.StartedAt),
		Body:        body,
		RecordCount: out.Len(),
		RunID:       runID,
		CityID:      cfg.CityID,
		DataType:    cfg.DataType,
		Source:      source,
		CreatedAt:   time.Now(),
	}

	path, err := storage.Deliver(ctx, cfg.OutputDir, artifact, sink, logger)
	switch {
	case errors.Is(err, models.ErrSinkUpload):
		logger.Error("Upload failed, artifact kept at %s: %v", path, err)
		return 1
	case err != nil:
		logger.Error("Delivery failed: %v", err)
		return 1
	case sink == nil && cfg.Sink != "none":
		logger.Error("Artifact kept at %s, %s sink was not reachable", path, cfg.Sink)
		return 1
	}

	fmt.Printf("  Done. %d listings → %s (sink: %s)\n\n", out.Len(), path, cfg.Sink)
	return 0
}

func newFetcher(cfg *config.Config, retry *utils.RetryConfig, logger *utils.Logger) (fetcher.Fetcher, func(), error) {
	if cfg.FetchMode == "browser" {
		b, err := fetcher.NewBrowserFetcher(fetcher.BrowserOptions{
			UserAgent: cfg.UserAgent,
			ChromeBin: cfg.ChromeBin,
			Timeout:   cfg.FetchTimeout,
			Retry:     retry,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.FetchTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryWaitMin: cfg.RetryBaseDelay,
	}, logger), func() {}, nil
}

func newSink(ctx context.Context, cfg *config.Config, retry *utils.RetryConfig, logger *utils.Logger) (storage.Sink, error) {
	switch cfg.Sink {
	case "s3":
		return storage.NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, retry, logger)
	case "postgres":
		return storage.NewPostgresWriter(ctx, cfg.DSN(), retry, logger)
	default:
		return storage.NoopSink{}, nil
	}
}
