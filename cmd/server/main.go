// Package main provides the unified service that runs all components:
// - Ingestion (continuous): websocket snapshot feed into the store
// - Sweep (scheduled): simulation parameter sweeps over recent data
// - Reporting (scheduled): REPORT.md and CSVs from persisted runs
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"lending-lab/internal/config"
	"lending-lab/internal/domain"
	"lending-lab/internal/ingestion"
	"lending-lab/internal/marketdata"
	"lending-lab/internal/normalization"
	"lending-lab/internal/observability"
	"lending-lab/internal/protocol"
	"lending-lab/internal/reporting"
	"lending-lab/internal/sandbox"
	"lending-lab/internal/storage"
	chstore "lending-lab/internal/storage/clickhouse"
	"lending-lab/internal/storage/memory"
	"lending-lab/internal/storage/migrations"
	pgstore "lending-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	cfg         *config.Config
	lookback    time.Duration
	capital     decimal.Decimal
	parallelism int

	stores *allStores
	engine *sandbox.Engine
	logger *log.Logger

	// State
	mu               sync.Mutex
	ingestionStarted time.Time
	lastSweepRun     time.Time
	lastReportRun    time.Time
	sweepRunning     bool
	reportRunning    bool
	sweepRuns        int
	reportRuns       int
}

// allStores holds all storage implementations.
type allStores struct {
	snapshots storage.MarketSnapshotStore
	configs   storage.StrategyConfigStore
	runs      storage.RunRecordStore
}

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file")
	feedEndpoint := flag.String("feed-endpoint", "", "Websocket feed endpoint (overrides config)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	outputDir := flag.String("output-dir", "", "Output directory for reports (overrides config)")
	sweepInterval := flag.Duration("sweep-interval", 0, "Sweep run interval (overrides config)")
	reportInterval := flag.Duration("report-interval", 0, "Report generation interval (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for health/status/metrics (overrides config)")
	lookback := flag.Duration("lookback", 30*24*time.Hour, "Data window each sweep covers")
	capital := flag.String("capital", "10000", "Initial capital for allocation sweeps")

	flag.Parse()

	logger := log.New(os.Stderr, "[server] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *feedEndpoint != "" {
		cfg.FeedEndpoint = *feedEndpoint
	}
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.ClickhouseDSN = *clickhouseDSN
	}
	if *useMemory {
		cfg.UseMemory = true
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *sweepInterval > 0 {
		cfg.SweepInterval = config.Duration(*sweepInterval)
	}
	if *reportInterval > 0 {
		cfg.ReportInterval = config.Duration(*reportInterval)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	if !cfg.UseMemory && (cfg.PostgresDSN == "" || cfg.ClickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	initialCapital, err := decimal.NewFromString(*capital)
	if err != nil {
		logger.Fatalf("Invalid --capital %q: %v", *capital, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	server := &Server{
		cfg:         cfg,
		lookback:    *lookback,
		capital:     initialCapital,
		parallelism: cfg.SweepParallelism,
		stores:      stores,
		engine: sandbox.New(sandbox.Options{
			Logger:    log.New(os.Stderr, "[sandbox] ", log.LstdFlags),
			CacheOpts: cfg.CacheOptions(),
			Runs:      stores.runs,
			Markets:   cfg.MarketList(),
			Metrics:   true,
		}),
		logger: logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	go server.startHTTPServer(cfg.MetricsAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg *config.Config) (*allStores, func(), error) {
	if cfg.UseMemory {
		stores := &allStores{
			snapshots: memory.NewMarketSnapshotStore(),
			configs:   memory.NewStrategyConfigStore(),
			runs:      memory.NewRunRecordStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		snapshots: chstore.NewMarketSnapshotStore(conn),
		configs:   pgstore.NewStrategyConfigStore(pool),
		runs:      pgstore.NewRunRecordStore(pool),
	}
	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// Run starts all components and blocks until cancellation or failure.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting unified server...")

	errCh := make(chan error, 3)

	if s.cfg.FeedEndpoint != "" {
		go func() {
			err := s.runIngestion(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("ingestion: %w", err)
			}
		}()
	} else {
		s.logger.Println("No feed endpoint configured, skipping ingestion")
	}

	go func() {
		err := s.runSweepScheduler(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("sweep scheduler: %w", err)
		}
	}()

	go func() {
		err := s.runReportScheduler(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("report scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runIngestion consumes the snapshot feed into the store.
func (s *Server) runIngestion(ctx context.Context) error {
	s.logger.Printf("Starting ingestion from %s...", s.cfg.FeedEndpoint)

	feed, err := ingestion.NewFeedClient(ctx, s.cfg.FeedEndpoint, nil, s.logger)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer feed.Close()

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:     feed,
		Normalizer: normalization.NewRunner(protocol.NewRegistry(), s.stores.snapshots),
		Snapshots:  s.stores.snapshots,
		Logger:     log.New(os.Stderr, "[ingestion] ", log.LstdFlags),
	})

	s.mu.Lock()
	s.ingestionStarted = time.Now()
	s.mu.Unlock()

	s.logger.Println("Ingestion started")
	return runner.Run(ctx)
}

// runSweepScheduler runs parameter sweeps on schedule.
func (s *Server) runSweepScheduler(ctx context.Context) error {
	interval := s.cfg.SweepInterval.Std()
	s.logger.Printf("Starting sweep scheduler (interval: %v)...", interval)

	// Run immediately on start
	s.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep executes one sweep over recent data.
func (s *Server) runSweep(ctx context.Context) {
	s.mu.Lock()
	if s.sweepRunning {
		s.mu.Unlock()
		s.logger.Println("Sweep already running, skipping...")
		return
	}
	s.sweepRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweepRunning = false
		s.lastSweepRun = time.Now()
		s.sweepRuns++
		s.mu.Unlock()
	}()

	s.logger.Println("Running sweep...")
	start := time.Now()

	configs, err := s.loadStrategyConfigs(ctx)
	if err != nil {
		s.logger.Printf("Sweep: load configs: %v", err)
		return
	}
	if len(configs) == 0 {
		s.logger.Println("Sweep: no strategy configs, skipping")
		return
	}

	series, err := s.loadSeries(ctx)
	if err != nil {
		s.logger.Printf("Sweep: load series: %v", err)
		return
	}
	if len(series) == 0 {
		s.logger.Println("Sweep: no market data yet, skipping")
		return
	}

	results, err := s.engine.Sweep(ctx, configs, sandbox.SweepInput{
		Series:         series,
		InitialCapital: s.capital,
	}, s.parallelism)
	if err != nil {
		s.logger.Printf("Sweep failed: %v", err)
		return
	}

	succeeded := 0
	for _, res := range results {
		if res.Err != nil {
			s.logger.Printf("Sweep: config %s: %v", res.Config.ID, res.Err)
			continue
		}
		succeeded++
	}
	s.logger.Printf("Sweep completed in %v: %d/%d configs succeeded",
		time.Since(start), succeeded, len(results))
}

// loadStrategyConfigs reads persisted configs, falling back to the defaults
// built from the market registry.
func (s *Server) loadStrategyConfigs(ctx context.Context) ([]*domain.StrategyConfig, error) {
	var configs []*domain.StrategyConfig
	for _, kind := range []string{domain.KindAllocation, domain.KindRebalancing} {
		batch, err := s.stores.configs.GetByKind(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("load %s configs: %w", kind, err)
		}
		configs = append(configs, batch...)
	}
	if len(configs) > 0 {
		return configs, nil
	}
	return s.defaultStrategyConfigs(), nil
}

// defaultStrategyConfigs sweeps each allocation policy over the full
// registry plus one monitor-only debt run.
func (s *Server) defaultStrategyConfigs() []*domain.StrategyConfig {
	if len(s.cfg.Markets) == 0 {
		return nil
	}
	now := time.Now().Unix()

	var configs []*domain.StrategyConfig
	for _, strat := range []string{domain.StrategyEqual, domain.StrategyYieldWeighted, domain.StrategyWaterfill} {
		ac := s.cfg.AllocationConfig(nil)
		ac.Strategy = strat
		configs = append(configs, &domain.StrategyConfig{
			ID:         "default-alloc-" + strat,
			Name:       "Default " + strat + " allocation",
			Kind:       domain.KindAllocation,
			CreatedAt:  now,
			Allocation: &ac,
		})
	}

	rc := s.cfg.RebalancingConfig(nil)
	configs = append(configs, &domain.StrategyConfig{
		ID:          "default-debt-monitor",
		Name:        "Default debt monitor",
		Kind:        domain.KindRebalancing,
		CreatedAt:   now,
		Rebalancing: &rc,
	})
	return configs
}

// loadSeries fetches the lookback window for every known market. Markets
// without data are dropped.
func (s *Server) loadSeries(ctx context.Context) (map[string][]*domain.MarketState, error) {
	provider := marketdata.NewStoreProvider(s.stores.snapshots)

	marketIDs := make([]string, 0, len(s.cfg.Markets))
	for _, m := range s.cfg.Markets {
		marketIDs = append(marketIDs, m.ID)
	}
	if len(marketIDs) == 0 {
		ids, err := provider.ListMarketIDs(ctx)
		if err != nil {
			return nil, err
		}
		marketIDs = ids
	}

	end := time.Now().Unix()
	start := end - int64(s.lookback.Seconds())

	series := make(map[string][]*domain.MarketState, len(marketIDs))
	for _, id := range marketIDs {
		states, err := provider.GetTimeSeries(ctx, id, start, end, 1)
		if err != nil {
			return nil, fmt.Errorf("series for %s: %w", id, err)
		}
		if len(states) > 0 {
			series[id] = states
		}
	}
	return series, nil
}

// runReportScheduler generates reports on schedule.
func (s *Server) runReportScheduler(ctx context.Context) error {
	interval := s.cfg.ReportInterval.Std()
	s.logger.Printf("Starting report scheduler (interval: %v)...", interval)

	// Wait for the first sweep before generating reports
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.SweepInterval.Std() + 1*time.Minute):
	}

	s.runReport(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runReport(ctx)
		}
	}
}

// runReport generates the markdown and CSV reports.
func (s *Server) runReport(ctx context.Context) {
	s.mu.Lock()
	if s.reportRunning {
		s.mu.Unlock()
		s.logger.Println("Report generation already running, skipping...")
		return
	}
	s.reportRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reportRunning = false
		s.lastReportRun = time.Now()
		s.reportRuns++
		s.mu.Unlock()
	}()

	s.logger.Println("Generating reports...")
	start := time.Now()

	generator := reporting.NewGenerator(s.stores.runs, reporting.WithLogger(s.logger))
	report, err := generator.Generate(ctx)
	if err != nil {
		s.logger.Printf("Report generation error: %v", err)
		return
	}

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		s.logger.Printf("Failed to create output directory: %v", err)
		return
	}
	mdPath := filepath.Join(s.cfg.OutputDir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		s.logger.Printf("Failed to write %s: %v", mdPath, err)
		return
	}
	if err := reporting.WriteCSVFiles(s.cfg.OutputDir, report); err != nil {
		s.logger.Printf("Failed to write CSV files: %v", err)
		return
	}

	s.logger.Printf("Reports generated in %v to %s/", time.Since(start), s.cfg.OutputDir)
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status           string    `json:"status"`
	Uptime           string    `json:"uptime"`
	IngestionStarted time.Time `json:"ingestion_started,omitempty"`
	LastSweepRun     time.Time `json:"last_sweep_run,omitempty"`
	LastReportRun    time.Time `json:"last_report_run,omitempty"`
	SweepRuns        int       `json:"sweep_runs"`
	ReportRuns       int       `json:"report_runs"`
	SweepRunning     bool      `json:"sweep_running"`
	ReportRunning    bool      `json:"report_running"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:           "running",
		Uptime:           time.Since(s.ingestionStarted).String(),
		IngestionStarted: s.ingestionStarted,
		LastSweepRun:     s.lastSweepRun,
		LastReportRun:    s.lastReportRun,
		SweepRuns:        s.sweepRuns,
		ReportRuns:       s.reportRuns,
		SweepRunning:     s.sweepRunning,
		ReportRunning:    s.reportRunning,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
