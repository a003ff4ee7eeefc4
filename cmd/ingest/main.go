// Package main ingests market snapshot frames into the snapshot store,
// either from a websocket feed (continuous) or from a JSONL file (one shot).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lending-lab/internal/ingestion"
	"lending-lab/internal/normalization"
	"lending-lab/internal/observability"
	"lending-lab/internal/protocol"
	"lending-lab/internal/storage"
	chstore "lending-lab/internal/storage/clickhouse"
	"lending-lab/internal/storage/memory"
	"lending-lab/internal/storage/migrations"
	"lending-lab/internal/verification"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	feedEndpoint := flag.String("feed-endpoint", os.Getenv("FEED_ENDPOINT"), "Websocket feed endpoint")
	input := flag.String("input", "", "JSONL frame file (one-shot backfill instead of the feed)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	flushInterval := flag.Duration("flush-interval", 30*time.Second, "Progress log cadence")
	verifyInterval := flag.Int("verify-interval-hours", 1, "Expected snapshot cadence for post-backfill checks (0 disables gap checks)")

	flag.Parse()

	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	if *input == "" && *feedEndpoint == "" {
		logger.Fatal("--feed-endpoint or --input is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, cleanup, err := createSnapshotStore(ctx, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	normalizer := normalization.NewRunner(protocol.NewRegistry(), snapshots)

	if *input != "" {
		b := ingestion.NewBackfiller(ingestion.BackfillOptions{
			Normalizer: normalizer,
			Snapshots:  snapshots,
			Logger:     logger,
		})
		result, err := b.BackfillFile(ctx, *input)
		if err != nil {
			logger.Fatalf("Backfill %s: %v", *input, err)
		}
		logger.Printf("Done: %d read, %d stored, %d duplicates, %d errors in %v",
			result.FramesRead, result.SnapshotsStored, result.DuplicatesSkipped,
			result.Errors, result.Duration)

		report, err := verification.NewVerifier(snapshots, *verifyInterval).VerifyAll(ctx)
		if err != nil {
			logger.Fatalf("Verify stored series: %v", err)
		}
		if report.ErrorCount == 0 && report.WarningCount == 0 {
			logger.Printf("Verified %d snapshots across %d markets, no issues",
				report.TotalSnapshots, len(report.Markets))
			return
		}
		logger.Printf("Verification found %d errors, %d warnings:",
			report.ErrorCount, report.WarningCount)
		for _, mr := range report.Markets {
			for _, issue := range mr.Issues {
				logger.Printf("  %s t=%d [%s] %s: %s",
					issue.MarketID, issue.Timestamp, issue.Severity, issue.Field, issue.Detail)
			}
		}
		if report.ErrorCount > 0 {
			os.Exit(1)
		}
		return
	}

	// Metrics endpoint for the continuous mode
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		logger.Printf("Metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Metrics server: %v", err)
		}
	}()

	feed, err := ingestion.NewFeedClient(ctx, *feedEndpoint, nil, logger)
	if err != nil {
		logger.Fatalf("Connect feed: %v", err)
	}
	defer feed.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:        feed,
		Normalizer:    normalizer,
		Snapshots:     snapshots,
		FlushInterval: *flushInterval,
		Logger:        logger,
	})

	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Ingestion failed: %v", err)
	}

	stats := runner.Stats()
	logger.Printf("Shutdown complete: received=%d stored=%d duplicates=%d errors=%d",
		stats.FramesReceived, stats.SnapshotsStored, stats.Duplicates, stats.Errors)
}

func createSnapshotStore(ctx context.Context, clickhouseDSN string, useMemory bool) (storage.MarketSnapshotStore, func(), error) {
	if useMemory {
		return memory.NewMarketSnapshotStore(), func() {}, nil
	}
	if clickhouseDSN == "" {
		return nil, nil, errors.New("--clickhouse-dsn is required (or --use-memory)")
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, err
	}
	return chstore.NewMarketSnapshotStore(conn), func() { conn.Close() }, nil
}
