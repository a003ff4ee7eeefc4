package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lending-lab/internal/domain"
	"lending-lab/internal/normalization"
	"lending-lab/internal/observability"
	"lending-lab/internal/storage"
)

// Runner consumes a frame source and writes canonical snapshots to a store.
// Duplicate snapshots are expected across reconnects and are skipped, not
// treated as failures.
type Runner struct {
	source        FrameSource
	normalizer    *normalization.Runner
	snapshots     storage.MarketSnapshotStore
	flushInterval time.Duration
	logger        *log.Logger

	framesReceived  int64
	snapshotsStored int64
	duplicates      int64
	errorCount      int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source        FrameSource
	Normalizer    *normalization.Runner
	Snapshots     storage.MarketSnapshotStore
	FlushInterval time.Duration // progress log cadence, default 30s
	Logger        *log.Logger
}

// NewRunner creates an ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 30 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		source:        opts.Source,
		normalizer:    opts.Normalizer,
		snapshots:     opts.Snapshots,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Run consumes frames until the context is cancelled or the source closes
// its channel.
func (r *Runner) Run(ctx context.Context) error {
	frames, err := r.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	r.logger.Println("ingestion started")

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logProgress()
			r.logger.Println("ingestion stopping")
			return ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				r.logProgress()
				return errors.New("frame channel closed")
			}
			r.handleFrame(ctx, frame)

		case <-flushTicker.C:
			r.logProgress()
		}
	}
}

// handleFrame normalizes and stores one frame.
func (r *Runner) handleFrame(ctx context.Context, frame *normalization.Frame) {
	r.framesReceived++
	observability.RecordFrameReceived()

	st, err := r.normalizer.NormalizeFrame(frame)
	if err != nil {
		r.errorCount++
		observability.RecordNormalizeError(frame.Protocol)
		r.logger.Printf("normalize: %v", err)
		return
	}

	if err := r.snapshots.InsertBulk(ctx, []*domain.MarketState{st}); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			r.duplicates++
			observability.RecordDuplicateSnapshot()
			return
		}
		r.errorCount++
		r.logger.Printf("store snapshot for %s at %d: %v", st.MarketID, st.Timestamp, err)
		return
	}

	r.snapshotsStored++
	observability.RecordSnapshotStored()
	observability.DefaultMetrics.LastSuccessfulIngestion.Set(float64(time.Now().Unix()))
}

func (r *Runner) logProgress() {
	r.logger.Printf("ingestion progress: received=%d stored=%d duplicates=%d errors=%d",
		r.framesReceived, r.snapshotsStored, r.duplicates, r.errorCount)
}

// Stats returns current runner counters.
type Stats struct {
	FramesReceived  int64
	SnapshotsStored int64
	Duplicates      int64
	Errors          int64
}

// Stats snapshots the counters. Not synchronized; call after Run returns or
// accept approximate values.
func (r *Runner) Stats() Stats {
	return Stats{
		FramesReceived:  r.framesReceived,
		SnapshotsStored: r.snapshotsStored,
		Duplicates:      r.duplicates,
		Errors:          r.errorCount,
	}
}
