package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// EventReader reads events from a Parquet file.
type EventReader struct {
	file   *os.File
	reader *parquet.GenericReader[EventRow]
	path   string
}

// NewEventReader creates a new event Parquet reader.
func NewEventReader(path string) (*EventReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[EventRow](f, parquet.ReadBufferSize(1024*1024))

	return &EventReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n events from the file. It returns io.EOF once all
// rows have been read.
func (r *EventReader) Read(n int) ([]telemetry.Event, error) {
	rows := make([]EventRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	events := make([]telemetry.Event, count)
	for i := 0; i < count; i++ {
		events[i] = RowToEvent(&rows[i])
	}

	return events, nil
}

// ReadAll reads all events from the file.
func (r *EventReader) ReadAll() ([]telemetry.Event, error) {
	numRows := r.reader.NumRows()
	if numRows == 0 {
		return []telemetry.Event{}, nil
	}
	rows := make([]EventRow, numRows)

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	events := make([]telemetry.Event, n)
	for i := 0; i < n; i++ {
		events[i] = RowToEvent(&rows[i])
	}

	return events, nil
}

// NumRows returns the total number of rows in the file.
func (r *EventReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *EventReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *EventReader) Path() string {
	return r.path
}

// ReadFile reads all events from the Parquet file at path.
func ReadFile(path string) ([]telemetry.Event, error) {
	r, err := NewEventReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string `json:"path"`
	Size    int64  `json:"size_bytes"`
	NumRows int64  `json:"num_rows"`
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
	}, nil
}
