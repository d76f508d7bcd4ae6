// Package dualsink persists accepted telemetry batches into the time store
// and the partitioned lake.
//
// The two writes are independent. Either may succeed while the other fails,
// there is no retry and nothing is rolled back. Callers inspect both
// outcomes.
package dualsink

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// TimeStore is the time-indexed sink.
type TimeStore interface {
	WriteEvents(ctx context.Context, events []telemetry.Event) error
}

// Lake is the partitioned file sink.
type Lake interface {
	WriteBatch(ctx context.Context, events []telemetry.Event) ([]string, error)
}

// PersistResult is the detailed outcome of one PersistBatch call.
type PersistResult struct {
	DBOK   bool
	LakeOK bool

	// DBErr and LakeErr hold the cause of a failed sink, nil otherwise.
	DBErr   error
	LakeErr error

	// Files lists the lake files written, including on partial failure.
	Files []string

	Events   int
	Duration time.Duration
}

// Partial reports whether exactly one sink failed.
func (r PersistResult) Partial() bool {
	return r.DBOK != r.LakeOK
}

// Err joins both sink errors.
func (r PersistResult) Err() error {
	return errors.Join(r.DBErr, r.LakeErr)
}

// Stats holds writer statistics.
type Stats struct {
	Batches       int64
	DBFailures    int64
	LakeFailures  int64
	PartialWrites int64
}

// Writer writes batches to both sinks. It is safe for concurrent use,
// though callers normally persist one batch at a time.
type Writer struct {
	store TimeStore
	lake  Lake

	batches       atomic.Int64
	dbFailures    atomic.Int64
	lakeFailures  atomic.Int64
	partialWrites atomic.Int64
}

// New creates a Writer.
func New(store TimeStore, lake Lake) *Writer {
	return &Writer{
		store: store,
		lake:  lake,
	}
}

// PersistBatch writes events to both sinks and reports each sink's
// success. An empty batch touches neither sink and reports (true, true).
func (w *Writer) PersistBatch(ctx context.Context, events []telemetry.Event) (dbOK, lakeOK bool) {
	r := w.PersistBatchDetailed(ctx, events)
	return r.DBOK, r.LakeOK
}

// PersistBatchDetailed is PersistBatch with the failure causes.
func (w *Writer) PersistBatchDetailed(ctx context.Context, events []telemetry.Event) PersistResult {
	if len(events) == 0 {
		return PersistResult{DBOK: true, LakeOK: true}
	}

	start := time.Now()
	result := PersistResult{Events: len(events)}

	// Neither goroutine returns an error, so one sink failing never
	// cancels the other.
	var g errgroup.Group

	g.Go(func() error {
		result.DBErr = guard("time store", func() error {
			return w.store.WriteEvents(ctx, events)
		})
		if result.DBErr != nil {
			result.DBErr = errors.Mark(result.DBErr, errors.ErrStoreWrite)
		}
		return nil
	})

	g.Go(func() error {
		result.LakeErr = guard("lake", func() error {
			files, err := w.lake.WriteBatch(ctx, events)
			result.Files = files
			return err
		})
		if result.LakeErr != nil {
			result.LakeErr = errors.Mark(result.LakeErr, errors.ErrLakeWrite)
		}
		return nil
	})

	_ = g.Wait()

	result.DBOK = result.DBErr == nil
	result.LakeOK = result.LakeErr == nil
	result.Duration = time.Since(start)

	w.record(ctx, result)
	return result
}

// guard runs fn and converts a panic into an error.
func guard(sink string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v: %w", sink, p, errors.ErrInternal)
			logging.Component("dualsink").Error("sink panic recovered",
				"sink", sink, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	return fn()
}

func (w *Writer) record(ctx context.Context, r PersistResult) {
	w.batches.Add(1)

	log := logging.WithContext(ctx).With("component", "dualsink")

	if !r.DBOK {
		w.dbFailures.Add(1)
		log.Error("time store write failed", "events", r.Events, "error", r.DBErr)
	}
	if !r.LakeOK {
		w.lakeFailures.Add(1)
		log.Error("lake write failed", "events", r.Events, "files_written", len(r.Files), "error", r.LakeErr)
	}
	if r.Partial() {
		w.partialWrites.Add(1)
		log.Warn("partial batch persistence", "db_ok", r.DBOK, "lake_ok", r.LakeOK)
	}
	if r.DBOK && r.LakeOK {
		log.Debug("batch persisted", "events", r.Events, "files", len(r.Files), "duration", r.Duration)
	}
}

// Stats returns writer statistics.
func (w *Writer) Stats() Stats {
	return Stats{
		Batches:       w.batches.Load(),
		DBFailures:    w.dbFailures.Load(),
		LakeFailures:  w.lakeFailures.Load(),
		PartialWrites: w.partialWrites.Load(),
	}
}
