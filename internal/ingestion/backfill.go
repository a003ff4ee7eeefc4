package ingestion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"lending-lab/internal/domain"
	"lending-lab/internal/normalization"
	"lending-lab/internal/storage"
)

// LoadFile reads frames from a JSONL file, one frame per line. Blank lines
// are skipped; a malformed line fails the load with its line number.
func LoadFile(path string) ([]*normalization.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var frames []*normalization.Frame
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		frame, err := normalization.ParseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return frames, nil
}

// Backfiller loads historical frames into the snapshot store.
type Backfiller struct {
	normalizer *normalization.Runner
	snapshots  storage.MarketSnapshotStore
	batchSize  int
	logger     *log.Logger
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	Normalizer *normalization.Runner
	Snapshots  storage.MarketSnapshotStore
	BatchSize  int // default 1000
	Logger     *log.Logger
}

// NewBackfiller creates a backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Backfiller{
		normalizer: opts.Normalizer,
		snapshots:  opts.Snapshots,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	FramesRead        int
	SnapshotsStored   int
	DuplicatesSkipped int
	Errors            int
	Duration          time.Duration
}

// BackfillFile loads a JSONL frame file into the store. Frames already
// present are counted as duplicates, not failures.
func (b *Backfiller) BackfillFile(ctx context.Context, path string) (*BackfillResult, error) {
	start := time.Now()

	frames, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	result := &BackfillResult{FramesRead: len(frames)}
	b.logger.Printf("backfill: loaded %d frames from %s", len(frames), path)

	states := make([]*domain.MarketState, 0, len(frames))
	for _, frame := range frames {
		st, err := b.normalizer.NormalizeFrame(frame)
		if err != nil {
			result.Errors++
			b.logger.Printf("backfill normalize: %v", err)
			continue
		}
		states = append(states, st)
	}

	normalization.SortStates(states)
	deduped := normalization.DedupeStates(states)
	result.DuplicatesSkipped += len(states) - len(deduped)

	stored, dupes, errs := b.storeSnapshots(ctx, deduped)
	result.SnapshotsStored += stored
	result.DuplicatesSkipped += dupes
	result.Errors += errs

	result.Duration = time.Since(start)
	b.logger.Printf("backfill complete: %d stored, %d duplicates, %d errors in %v",
		result.SnapshotsStored, result.DuplicatesSkipped, result.Errors, result.Duration)
	return result, nil
}

// storeSnapshots inserts in batches, falling back to per-snapshot inserts on
// a duplicate so the rest of the batch still lands.
func (b *Backfiller) storeSnapshots(ctx context.Context, states []*domain.MarketState) (stored, dupes, errs int) {
	for i := 0; i < len(states); i += b.batchSize {
		end := i + b.batchSize
		if end > len(states) {
			end = len(states)
		}

		batch := states[i:end]
		err := b.snapshots.InsertBulk(ctx, batch)
		if err == nil {
			stored += len(batch)
			continue
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			errs += len(batch)
			b.logger.Printf("backfill store batch: %v", err)
			continue
		}

		// Insert one by one to find which are duplicates
		for _, st := range batch {
			if err := b.snapshots.InsertBulk(ctx, []*domain.MarketState{st}); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					dupes++
				} else {
					errs++
				}
			} else {
				stored++
			}
		}
	}
	return stored, dupes, errs
}
