// Package main loads persisted run records and writes markdown and CSV
// reports to an output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"lending-lab/internal/reporting"
	"lending-lab/internal/storage/migrations"
	pgstore "lending-lab/internal/storage/postgres"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (required)")
	outputDir := flag.String("output-dir", "output", "Output directory for generated files")
	limit := flag.Int("limit", reporting.DefaultRunLimit, "Maximum recent runs to cover")
	stdout := flag.Bool("stdout", false, "Print the markdown report instead of writing files")

	flag.Parse()

	logger := log.New(os.Stderr, "[report] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Postgres migrations: %v", err)
	}

	generator := reporting.NewGenerator(pgstore.NewRunRecordStore(pool),
		reporting.WithLimit(*limit), reporting.WithLogger(logger))

	report, err := generator.Generate(ctx)
	if err != nil {
		logger.Fatalf("Generate report: %v", err)
	}

	markdown := reporting.RenderMarkdown(report)

	if *stdout {
		fmt.Print(markdown)
		return
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatalf("Create output dir: %v", err)
	}
	mdPath := filepath.Join(*outputDir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		logger.Fatalf("Write %s: %v", mdPath, err)
	}
	if err := reporting.WriteCSVFiles(*outputDir, report); err != nil {
		logger.Fatalf("Write CSV files: %v", err)
	}

	logger.Printf("Wrote report for %d allocation and %d debt runs to %s/",
		len(report.AllocationRuns), len(report.DebtRuns), *outputDir)
}
