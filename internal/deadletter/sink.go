// Package deadletter implements the append-only log of rejected and
// unparseable raw records.
//
// File format: one JSON object per line,
//
//	{"timestamp":"2024-03-02T23:59:00Z","event":"<raw>","error":"<message>"}
//
// A raw record that is not valid UTF-8 cannot survive JSON encoding, so its
// exact bytes are also stored base64-encoded in "event_base64" and restored
// by ReadFile.
//
// The file is opened with O_APPEND and never truncated, so entries from
// earlier runs are preserved. A single Sink serializes its appends; each
// entry reaches the file as one write call.
package deadletter

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Sync modes.
const (
	// SyncAsync buffers entries and writes them on Sync, Close or when the
	// buffer fills.
	SyncAsync = "async"
	// SyncWrite writes every entry to the file before Record returns.
	SyncWrite = "sync"
	// SyncFsync additionally fsyncs after every entry.
	SyncFsync = "fsync"
)

// Options configures the Sink.
type Options struct {
	// SyncMode is one of "async", "sync" or "fsync".
	// Default: "sync"
	SyncMode string

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default dead-letter options.
func DefaultOptions() Options {
	return Options{
		SyncMode:   SyncWrite,
		BufferSize: 64 * 1024,
	}
}

// Stats holds dead-letter statistics.
type Stats struct {
	EntriesWritten int64
	BytesWritten   int64
	SyncsPerformed int64
	Errors         int64
	// CorruptLines counts undecodable lines skipped by ListAll.
	CorruptLines int64
}

// Sink is a file-backed dead-letter log.
type Sink struct {
	mu sync.Mutex

	path   string
	file   *os.File
	writer *bufio.Writer
	opts   Options
	now    func() time.Time
	closed bool

	stats Stats
}

// Open opens (or creates) the dead-letter file at path for appending.
func Open(path string, opts Options) (*Sink, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	switch opts.SyncMode {
	case "":
		opts.SyncMode = SyncWrite
	case SyncAsync, SyncWrite, SyncFsync:
	default:
		return nil, errors.NewInvalidValue("sync_mode", opts.SyncMode, "must be async, sync or fsync")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Mark(fmt.Errorf("create dead letter dir: %w", err), errors.ErrDeadLetter)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("open dead letter file: %w", err), errors.ErrDeadLetter)
	}

	return &Sink{
		path:   path,
		file:   f,
		writer: bufio.NewWriterSize(f, opts.BufferSize),
		opts:   opts,
		now:    time.Now,
	}, nil
}

// entryLine is the on-disk form of a DeadLetterEntry.
type entryLine struct {
	telemetry.DeadLetterEntry
	RawBase64 string `json:"event_base64,omitempty"`
}

// Path returns the file path.
func (s *Sink) Path() string {
	return s.path
}

// Record appends one entry stamped with the current UTC time. Any write
// failure is returned wrapped in errors.ErrDeadLetter.
func (s *Sink) Record(ctx context.Context, raw, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.stats.Errors++
		return errors.Mark(errors.ErrWriterClosed, errors.ErrDeadLetter)
	}

	entry := entryLine{
		DeadLetterEntry: telemetry.DeadLetterEntry{
			ReceivedAt:   s.now().UTC(),
			RawRecord:    raw,
			ErrorMessage: message,
		},
	}
	if !utf8.ValidString(raw) {
		entry.RawBase64 = base64.StdEncoding.EncodeToString([]byte(raw))
	}

	line, err := json.Marshal(entry)
	if err != nil {
		s.stats.Errors++
		return errors.Mark(fmt.Errorf("encode entry: %w", err), errors.ErrDeadLetter)
	}
	line = append(line, '\n')

	// Flush first so the entry never straddles two write calls.
	if s.writer.Available() < len(line) && s.writer.Buffered() > 0 {
		if err := s.writer.Flush(); err != nil {
			s.stats.Errors++
			return errors.Mark(fmt.Errorf("flush: %w", err), errors.ErrDeadLetter)
		}
	}

	if _, err := s.writer.Write(line); err != nil {
		s.stats.Errors++
		return errors.Mark(fmt.Errorf("write entry: %w", err), errors.ErrDeadLetter)
	}

	s.stats.EntriesWritten++
	s.stats.BytesWritten += int64(len(line))

	if s.opts.SyncMode != SyncAsync {
		if err := s.syncUnlocked(); err != nil {
			s.stats.Errors++
			return errors.Mark(fmt.Errorf("sync: %w", err), errors.ErrDeadLetter)
		}
	}

	logging.WithContext(ctx).Debug("dead-lettered record", "component", "deadletter", "error", message)
	return nil
}

// Sync flushes buffered entries to the file.
func (s *Sink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncUnlocked(); err != nil {
		s.stats.Errors++
		return errors.Mark(err, errors.ErrDeadLetter)
	}
	return nil
}

func (s *Sink) syncUnlocked() error {
	if s.closed {
		return nil
	}

	if err := s.writer.Flush(); err != nil {
		return err
	}

	if s.opts.SyncMode == SyncFsync {
		if err := s.file.Sync(); err != nil {
			return err
		}
	}

	s.stats.SyncsPerformed++
	return nil
}

// ListAll returns every entry in append order, including entries written
// by earlier runs. Buffered entries are flushed first. Lines that cannot
// be decoded are skipped and counted in Stats.CorruptLines.
func (s *Sink) ListAll() ([]telemetry.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		if err := s.writer.Flush(); err != nil {
			s.stats.Errors++
			return nil, errors.Mark(fmt.Errorf("flush: %w", err), errors.ErrDeadLetter)
		}
	}

	entries, corrupt, err := ReadFile(s.path)
	s.stats.CorruptLines += int64(corrupt)
	return entries, err
}

// Close flushes and closes the file. Further Record calls fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	flushErr := s.syncUnlocked()
	s.closed = true
	closeErr := s.file.Close()

	if err := errors.Join(flushErr, closeErr); err != nil {
		return errors.Mark(err, errors.ErrDeadLetter)
	}
	return nil
}

// Stats returns dead-letter statistics.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
