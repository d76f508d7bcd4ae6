// Package retention removes lake partitions older than a configured age.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/storage/parquet"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Lake is the part of the lake retention needs.
type Lake interface {
	Base() string
	Partitions() ([]parquet.PartitionInfo, error)
}

// Manager handles cleanup of expired partitions.
type Manager struct {
	mu     sync.Mutex
	lake   Lake
	maxAge time.Duration
	now    func() time.Time
	stats  Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime       time.Time
	PartitionsDeleted int64
	FilesDeleted      int64
	BytesFreed        int64
	Errors            int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Deleted    []telemetry.Date
	Kept       int
	Files      int
	BytesFreed int64
	Errors     []error
}

// New creates a retention manager keeping partitions whose whole day lies
// within maxAge of now. A non-positive maxAge keeps everything.
func New(lake Lake, maxAge time.Duration) *Manager {
	return &Manager{lake: lake, maxAge: maxAge, now: time.Now}
}

// RunCleanup deletes expired partitions.
func (m *Manager) RunCleanup() (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()

	result, err := m.cleanup(false)
	if err != nil {
		m.stats.Errors++
		return result, err
	}

	m.stats.PartitionsDeleted += int64(len(result.Deleted))
	m.stats.FilesDeleted += int64(result.Files)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.Errors += int64(len(result.Errors))

	if len(result.Deleted) > 0 || len(result.Errors) > 0 {
		logging.Component("retention").Info("cleanup finished",
			"deleted", len(result.Deleted),
			"kept", result.Kept,
			"bytes_freed", formatBytes(result.BytesFreed),
			"errors", len(result.Errors))
	}
	return result, nil
}

// DryRun reports what RunCleanup would delete.
func (m *Manager) DryRun() (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanup(true)
}

// Cutoff returns the date before which partitions expire, and false when
// retention is disabled.
func (m *Manager) Cutoff() (telemetry.Date, bool) {
	if m.maxAge <= 0 {
		return telemetry.Date{}, false
	}
	t := m.now().UTC().Add(-m.maxAge)
	// A partition expires only once its last instant is past the cutoff.
	return telemetry.Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, true
}

func (m *Manager) cleanup(dryRun bool) (CleanupResult, error) {
	var result CleanupResult

	parts, err := m.lake.Partitions()
	if err != nil {
		return result, fmt.Errorf("list partitions: %w", err)
	}

	cutoff, enabled := m.Cutoff()
	if !enabled {
		result.Kept = len(parts)
		return result, nil
	}

	for _, p := range parts {
		if !p.Date.Before(cutoff) {
			result.Kept++
			continue
		}

		if !dryRun {
			dir := filepath.Join(m.lake.Base(), p.Path)
			if err := os.RemoveAll(dir); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", dir, err))
				continue
			}
			m.pruneEmptyParents(dir)
		}

		result.Deleted = append(result.Deleted, p.Date)
		result.Files += len(p.Files)
		result.BytesFreed += p.Bytes
	}

	return result, nil
}

// pruneEmptyParents removes the month and year directories left empty by a
// deleted day partition.
func (m *Manager) pruneEmptyParents(dir string) {
	base := filepath.Clean(m.lake.Base())
	for parent := filepath.Dir(dir); parent != base && len(parent) > len(base); parent = filepath.Dir(parent) {
		// Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(parent); err != nil {
			return
		}
	}
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
