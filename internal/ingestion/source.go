package ingestion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/xtxerr/telemetry/internal/errors"
)

// BatchSource yields raw records in batches.
//
// Next returns io.EOF once the source is exhausted. A non-empty batch may be
// returned together with io.EOF when the final batch is short. A nil error
// always comes with at least one record; the orchestrator treats an empty
// batch without an error as the end of the source.
type BatchSource interface {
	Next(ctx context.Context) ([]string, error)
}

// DefaultBatchSize is used when a source is created with a non-positive size.
const DefaultBatchSize = 100

// SliceSource serves records held in memory.
type SliceSource struct {
	mu        sync.Mutex
	records   []string
	batchSize int
	pos       int
}

// NewSliceSource returns a source that yields records in batches of batchSize.
func NewSliceSource(records []string, batchSize int) *SliceSource {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SliceSource{records: records, batchSize: batchSize}
}

// Next implements BatchSource.
func (s *SliceSource) Next(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.records) {
		return nil, io.EOF
	}

	end := s.pos + s.batchSize
	if end > len(s.records) {
		end = len(s.records)
	}
	batch := make([]string, end-s.pos)
	copy(batch, s.records[s.pos:end])
	s.pos = end

	return batch, nil
}

// FileSource reads JSON lines, one raw record per non-blank line.
type FileSource struct {
	mu        sync.Mutex
	name      string
	closer    io.Closer
	scanner   *bufio.Scanner
	batchSize int
	line      int
	done      bool
}

const maxLineSize = 16 * 1024 * 1024

// OpenFile opens a JSON-lines file as a BatchSource.
func OpenFile(path string, batchSize int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("open %s: %w", path, err), errors.ErrSourceRead)
	}
	s := NewReaderSource(f, path, batchSize)
	s.closer = f
	return s, nil
}

// NewReaderSource reads JSON lines from r. name is used in errors only.
// Close does not close r.
func NewReaderSource(r io.Reader, name string, batchSize int) *FileSource {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &FileSource{
		name:      name,
		scanner:   scanner,
		batchSize: batchSize,
	}
}

// Name returns the path or name of the input.
func (s *FileSource) Name() string {
	return s.name
}

// Next implements BatchSource.
func (s *FileSource) Next(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}

	batch := make([]string, 0, s.batchSize)
	for len(batch) < s.batchSize && s.scanner.Scan() {
		s.line++
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		batch = append(batch, line)
	}

	if err := s.scanner.Err(); err != nil {
		s.done = true
		return batch, errors.Mark(fmt.Errorf("read %s line %d: %w", s.name, s.line+1, err), errors.ErrSourceRead)
	}

	if len(batch) < s.batchSize {
		s.done = true
		if len(batch) == 0 {
			return nil, io.EOF
		}
		return batch, io.EOF
	}
	return batch, nil
}

// Close releases the underlying file.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = true
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
