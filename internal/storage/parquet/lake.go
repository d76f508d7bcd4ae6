package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

const (
	filePrefix = "telemetry_"
	fileSuffix = ".parquet"
	tmpSuffix  = ".tmp"
)

// Lake is a directory of date-partitioned Parquet files:
//
//	<base>/year=YYYY/month=MM/day=DD/telemetry_<YYYYmmdd_HHMMSS>_<id>.parquet
//
// Every WriteBatch creates a new file in each partition it touches; files
// are never merged or rewritten. A file becomes visible under its final
// name only after its footer has been written.
type Lake struct {
	base string
	opts Options

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	stats LakeStats
}

// LakeStats holds lake writer statistics.
type LakeStats struct {
	FilesWritten int64
	RowsWritten  int64
	Errors       int64
}

// NewLake creates a Lake rooted at base. The directory is created lazily on
// the first write.
func NewLake(base string, opts Options) *Lake {
	return &Lake{
		base:  base,
		opts:  opts,
		now:   time.Now,
		newID: func() string { return uuid.NewString()[:8] },
	}
}

// Base returns the lake root directory.
func (l *Lake) Base() string {
	return l.base
}

// Stats returns lake writer statistics.
func (l *Lake) Stats() LakeStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// PartitionDir returns the directory of the partition for d.
func (l *Lake) PartitionDir(d telemetry.Date) string {
	return filepath.Join(l.base, filepath.FromSlash(d.Path()))
}

// WriteBatch groups events by the UTC date of their measurement time and
// writes one new file per partition. It returns the paths written. On
// failure the files already written for other partitions stay in place and
// the error wraps errors.ErrLakeWrite.
func (l *Lake) WriteBatch(ctx context.Context, events []telemetry.Event) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	dates, groups := telemetry.GroupByDate(events)
	stamp := l.now().UTC().Format("20060102_150405")

	var written []string
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return written, l.fail(err)
		}

		name := fmt.Sprintf("%s%s_%s%s", filePrefix, stamp, l.newID(), fileSuffix)
		path := filepath.Join(l.PartitionDir(d), name)

		if err := l.writeFile(path, groups[d]); err != nil {
			return written, l.fail(fmt.Errorf("partition %s: %w", d.Path(), err))
		}

		written = append(written, path)

		l.mu.Lock()
		l.stats.FilesWritten++
		l.stats.RowsWritten += int64(len(groups[d]))
		l.mu.Unlock()
	}

	return written, nil
}

func (l *Lake) writeFile(path string, events []telemetry.Event) error {
	tmp := path + tmpSuffix
	if err := WriteFile(tmp, events, l.opts); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (l *Lake) fail(err error) error {
	l.mu.Lock()
	l.stats.Errors++
	l.mu.Unlock()
	return errors.Mark(err, errors.ErrLakeWrite)
}

// =============================================================================
// Inspection
// =============================================================================

// PartitionInfo describes one date partition.
type PartitionInfo struct {
	Date  telemetry.Date `json:"-"`
	Path  string         `json:"path"`
	Files []FileInfo     `json:"files"`
	Rows  int64          `json:"rows"`
	Bytes int64          `json:"bytes"`
}

// Partitions lists the lake's partitions in ascending date order. A lake
// that has never been written yields no partitions.
func (l *Lake) Partitions() ([]PartitionInfo, error) {
	dates, err := l.dates()
	if err != nil {
		return nil, err
	}

	parts := make([]PartitionInfo, 0, len(dates))
	for _, d := range dates {
		files, err := l.partitionFiles(d)
		if err != nil {
			return nil, err
		}

		info := PartitionInfo{Date: d, Path: d.Path()}
		for _, path := range files {
			fi, err := GetFileInfo(path)
			if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", path, err)
			}
			info.Files = append(info.Files, *fi)
			info.Rows += fi.NumRows
			info.Bytes += fi.Size
		}
		parts = append(parts, info)
	}
	return parts, nil
}

// ReadPartition reads every event stored under the partition for d, file
// by file in name order.
func (l *Lake) ReadPartition(d telemetry.Date) ([]telemetry.Event, error) {
	files, err := l.partitionFiles(d)
	if err != nil {
		return nil, err
	}

	var events []telemetry.Event
	for _, path := range files {
		batch, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		events = append(events, batch...)
	}
	return events, nil
}

// ReadAll reads every event in the lake in partition order.
func (l *Lake) ReadAll() ([]telemetry.Event, error) {
	dates, err := l.dates()
	if err != nil {
		return nil, err
	}

	var events []telemetry.Event
	for _, d := range dates {
		batch, err := l.ReadPartition(d)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

// partitionFiles returns the committed data files of a partition sorted by
// name. Temporary files of in-progress writes are skipped.
func (l *Lake) partitionFiles(d telemetry.Date) ([]string, error) {
	dir := l.PartitionDir(d)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partition %s: %w", d.Path(), err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// dates walks year=/month=/day= directories and returns the dates found.
func (l *Lake) dates() ([]telemetry.Date, error) {
	years, err := listKeyed(l.base, "year")
	if err != nil {
		return nil, err
	}

	var dates []telemetry.Date
	for _, y := range years {
		yearDir := filepath.Join(l.base, fmt.Sprintf("year=%04d", y))
		months, err := listKeyed(yearDir, "month")
		if err != nil {
			return nil, err
		}
		for _, m := range months {
			monthDir := filepath.Join(yearDir, fmt.Sprintf("month=%02d", m))
			days, err := listKeyed(monthDir, "day")
			if err != nil {
				return nil, err
			}
			for _, d := range days {
				dates = append(dates, telemetry.Date{Year: y, Month: time.Month(m), Day: d})
			}
		}
	}

	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})
	return dates, nil
}

// listKeyed returns the values of key=N subdirectories of dir.
func listKeyed(dir, key string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var values []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(entry.Name(), key+"=%d", &v); err != nil {
			continue
		}
		values = append(values, v)
	}
	return values, nil
}
