// Package ingestion drives raw telemetry records through parsing,
// validation and persistence.
//
// Each batch is classified record by record. Events that parse and pass
// validation are persisted to both sinks, everything else is dead-lettered
// with the reason it was rejected. Record and sink failures are contained at
// batch level; only dead-letter failures and source errors stop a run.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Parser turns a raw record into an event.
type Parser interface {
	Parse(raw string) (telemetry.Event, error)
}

// Validator checks single events and whole batches.
type Validator interface {
	ValidateEvent(e telemetry.Event) telemetry.QualityResult
	ValidateBatch(events []telemetry.Event) telemetry.QualityResult
}

// DeadLetter stores rejected records.
type DeadLetter interface {
	Record(ctx context.Context, raw, message string) error
}

// Persister writes accepted events to the time store and the lake.
type Persister interface {
	PersistBatch(ctx context.Context, events []telemetry.Event) (dbOK, lakeOK bool)
}

// QualityLog receives batch quality results.
type QualityLog interface {
	LogQuality(ctx context.Context, result telemetry.QualityResult) error
}

// Reporter observes batch and run outcomes.
type Reporter interface {
	BatchProcessed(r BatchResult)
	RunFinished(r Report)
}

// Config holds orchestrator settings.
type Config struct {
	// MaxBatches bounds the number of batches handled by one Run.
	// Zero means unbounded.
	MaxBatches int `yaml:"max_batches" json:"max_batches"`
}

// Counters is a snapshot of the cumulative pipeline counters.
type Counters struct {
	BatchesSeen   int64 `json:"batches_seen"`
	TotalAccepted int64 `json:"total_accepted"`
	TotalRejected int64 `json:"total_rejected"`
}

// StopReason says why a run ended.
type StopReason string

const (
	StopExhausted   StopReason = "exhausted"
	StopMaxBatches  StopReason = "max_batches"
	StopCancelled   StopReason = "cancelled"
	StopSourceError StopReason = "source_error"
	StopDeadLetter  StopReason = "dead_letter_error"
)

// BatchResult describes how one batch was handled.
type BatchResult struct {
	Seq     int64
	BatchID string

	Records  int
	Accepted int
	Rejected int

	// Rejections by cause. They sum to Rejected.
	ParseFailures      int
	ValidationFailures int
	InternalFailures   int

	// Persisted is false when no event was accepted and the sinks were
	// not called. DBOK and LakeOK are true in that case.
	Persisted bool
	DBOK      bool
	LakeOK    bool

	// Quality is the informational batch check over every parsed event.
	// It is the zero value when nothing parsed.
	Quality telemetry.QualityResult

	// DeadLetterErr is the first dead-letter append failure, if any.
	DeadLetterErr error

	Duration time.Duration
}

// Report summarizes one Run.
type Report struct {
	RunID    string
	Batches  int64
	Accepted int64
	Rejected int64

	// Batches where at least one sink failed.
	DBFailures   int64
	LakeFailures int64

	Stopped  StopReason
	Duration time.Duration
}

func (r *Report) add(b BatchResult) {
	r.Batches++
	r.Accepted += int64(b.Accepted)
	r.Rejected += int64(b.Rejected)
	if !b.DBOK {
		r.DBFailures++
	}
	if !b.LakeOK {
		r.LakeFailures++
	}
}

// Orchestrator runs the ingestion loop. It is meant to be driven by a single
// worker; Counters may be read concurrently.
type Orchestrator struct {
	parser     Parser
	validator  Validator
	deadLetter DeadLetter
	persister  Persister
	qualityLog QualityLog
	reporter   Reporter
	cfg        Config

	seq           atomic.Int64
	batchesSeen   atomic.Int64
	totalAccepted atomic.Int64
	totalRejected atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithQualityLog sends every batch quality result to q.
func WithQualityLog(q QualityLog) Option {
	return func(o *Orchestrator) { o.qualityLog = q }
}

// WithReporter registers r for batch and run notifications.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// New creates an orchestrator.
func New(p Parser, v Validator, dl DeadLetter, sink Persister, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		parser:     p,
		validator:  v,
		deadLetter: dl,
		persister:  sink,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Counters returns the cumulative counters.
func (o *Orchestrator) Counters() Counters {
	return Counters{
		BatchesSeen:   o.batchesSeen.Load(),
		TotalAccepted: o.totalAccepted.Load(),
		TotalRejected: o.totalRejected.Load(),
	}
}

// Run pulls batches from src until it is exhausted, MaxBatches is reached
// or ctx is cancelled. A cancelled run finishes its in-flight batch and
// returns a nil error.
//
// Source errors and dead-letter failures end the run early. The report
// accumulated so far is returned together with the error.
func (o *Orchestrator) Run(ctx context.Context, src BatchSource) (Report, error) {
	start := time.Now()
	rep := Report{RunID: uuid.NewString()}
	ctx = logging.ContextWithRunID(ctx, rep.RunID)
	log := logging.WithContext(ctx).With("component", "orchestrator")

	log.Info("run started", "max_batches", o.cfg.MaxBatches)

	finish := func(reason StopReason, err error) (Report, error) {
		rep.Stopped = reason
		rep.Duration = time.Since(start)
		c := o.Counters()

		attrs := []any{
			"stopped", reason,
			"batches", rep.Batches,
			"accepted", rep.Accepted,
			"rejected", rep.Rejected,
			"db_failures", rep.DBFailures,
			"lake_failures", rep.LakeFailures,
			"batches_seen", c.BatchesSeen,
			"total_accepted", c.TotalAccepted,
			"total_rejected", c.TotalRejected,
			"duration", rep.Duration,
		}
		if err != nil {
			log.Error("run aborted", append(attrs, "error", err)...)
		} else {
			log.Info("run finished", attrs...)
		}

		if o.reporter != nil {
			o.reporter.RunFinished(rep)
		}
		return rep, err
	}

	for {
		if o.cfg.MaxBatches > 0 && rep.Batches >= int64(o.cfg.MaxBatches) {
			return finish(StopMaxBatches, nil)
		}
		if ctx.Err() != nil {
			return finish(StopCancelled, nil)
		}

		raws, err := src.Next(ctx)
		if len(raws) == 0 && err == nil {
			// An empty batch without an error breaks the source contract;
			// stop rather than spin on it.
			log.Warn("batch source returned an empty batch, treating it as exhausted")
			return finish(StopExhausted, nil)
		}
		eof := errors.Is(err, io.EOF)
		cancelled := err != nil && ctx.Err() != nil &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))

		if len(raws) > 0 {
			res, dlErr := o.ProcessBatch(ctx, raws)
			rep.add(res)
			if dlErr != nil {
				return finish(StopDeadLetter, dlErr)
			}
		}

		switch {
		case err == nil:
		case eof:
			return finish(StopExhausted, nil)
		case cancelled:
			return finish(StopCancelled, nil)
		default:
			return finish(StopSourceError, errors.Mark(err, errors.ErrSourceRead))
		}
	}
}

// outcome is the classification of one raw record.
type outcome struct {
	event    telemetry.Event
	parsed   bool
	accepted bool
	internal bool
	reason   string
}

// ProcessBatch classifies, persists and dead-letters one batch.
//
// Sinks and the dead-letter store receive a context detached from ctx's
// cancellation so that a batch is never left half written. The returned
// error is non-nil only if a dead-letter append failed; the batch is still
// fully processed in that case.
func (o *Orchestrator) ProcessBatch(ctx context.Context, raws []string) (BatchResult, error) {
	start := time.Now()
	res := BatchResult{
		Seq:     o.seq.Add(1),
		BatchID: uuid.NewString(),
		Records: len(raws),
		DBOK:    true,
		LakeOK:  true,
	}

	ctx = logging.ContextWithBatch(context.WithoutCancel(ctx), res.BatchID, res.Seq)
	log := logging.WithContext(ctx).With("component", "orchestrator")

	accepted := make([]telemetry.Event, 0, len(raws))
	parsed := make([]telemetry.Event, 0, len(raws))

	for i, raw := range raws {
		out := o.classify(raw)
		if out.parsed {
			parsed = append(parsed, out.event)
		}
		if out.accepted {
			accepted = append(accepted, out.event)
			continue
		}

		res.Rejected++
		switch {
		case out.internal:
			res.InternalFailures++
			log.Error("record handling panicked", "index", i, "reason", out.reason)
		case out.parsed:
			res.ValidationFailures++
		default:
			res.ParseFailures++
		}

		if err := o.deadLetter.Record(ctx, raw, out.reason); err != nil {
			log.Error("dead letter append failed", "index", i, "error", err)
			if res.DeadLetterErr == nil {
				res.DeadLetterErr = errors.Mark(err, errors.ErrDeadLetter)
			}
		}
	}
	res.Accepted = len(accepted)

	if len(accepted) > 0 {
		res.Persisted = true
		res.DBOK, res.LakeOK = o.persist(ctx, accepted)
		if !res.DBOK || !res.LakeOK {
			log.Warn("batch persisted partially",
				"db_ok", res.DBOK,
				"lake_ok", res.LakeOK,
				"events", len(accepted))
		}
	}

	if len(parsed) > 0 {
		res.Quality = o.checkBatch(ctx, parsed)
	}

	o.batchesSeen.Add(1)
	o.totalAccepted.Add(int64(res.Accepted))
	o.totalRejected.Add(int64(res.Rejected))

	res.Duration = time.Since(start)
	log.Info("batch processed",
		"records", res.Records,
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"parse_failures", res.ParseFailures,
		"validation_failures", res.ValidationFailures,
		"db_ok", res.DBOK,
		"lake_ok", res.LakeOK,
		"duration", res.Duration)

	if o.reporter != nil {
		o.reporter.BatchProcessed(res)
	}

	return res, res.DeadLetterErr
}

// classify parses and validates one record. A panic in either step rejects
// the record with the panic text.
func (o *Orchestrator) classify(raw string) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.Debug("record panic stack", "stack", string(debug.Stack()))
			out = outcome{internal: true, reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	event, err := o.parser.Parse(raw)
	if err != nil {
		return outcome{reason: err.Error()}
	}

	q := o.validator.ValidateEvent(event)
	if q.Status != telemetry.StatusPass {
		return outcome{event: event, parsed: true, reason: q.Message}
	}
	return outcome{event: event, parsed: true, accepted: true}
}

// persist calls the persister, treating a panic as both sinks failing.
func (o *Orchestrator) persist(ctx context.Context, events []telemetry.Event) (dbOK, lakeOK bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Error("persist panicked",
				"component", "orchestrator",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			dbOK, lakeOK = false, false
		}
	}()
	return o.persister.PersistBatch(ctx, events)
}

// checkBatch runs the batch quality check, logs it and hands it to the
// quality log. Failures here never affect the batch.
func (o *Orchestrator) checkBatch(ctx context.Context, parsed []telemetry.Event) (q telemetry.QualityResult) {
	log := logging.WithContext(ctx).With("component", "orchestrator")

	defer func() {
		if r := recover(); r != nil {
			log.Error("batch quality check panicked", "panic", fmt.Sprint(r))
			q = telemetry.QualityResult{}
		}
	}()

	q = o.validator.ValidateBatch(parsed)

	attrs := []any{
		"status", q.Status,
		"message", q.Message,
		"records", q.RecordCount,
		"errors", q.ErrorCount,
	}
	if q.Status == telemetry.StatusPass {
		log.Info("batch quality", attrs...)
	} else {
		log.Warn("batch quality", attrs...)
	}

	if o.qualityLog != nil {
		if err := o.qualityLog.LogQuality(ctx, q); err != nil {
			log.Warn("quality log write failed", "error", err)
		}
	}
	return q
}
