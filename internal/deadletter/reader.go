package deadletter

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

// maxLineSize bounds a single entry when reading back.
const maxLineSize = 16 * 1024 * 1024

// ReadFile reads all entries from a dead-letter file in append order.
// A missing or empty file yields no entries and no error. Lines that fail
// to decode, such as a torn final line after a crash, are skipped and
// counted. Records stored with "event_base64" are restored byte for byte.
func ReadFile(path string) (entries []telemetry.DeadLetterEntry, corrupt int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []telemetry.DeadLetterEntry{}, 0, nil
		}
		return nil, 0, fmt.Errorf("open dead letter file: %w", err)
	}
	defer f.Close()

	entries = []telemetry.DeadLetterEntry{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var e entryLine
		if err := json.Unmarshal(line, &e); err != nil {
			corrupt++
			continue
		}
		if e.RawBase64 != "" {
			raw, err := base64.StdEncoding.DecodeString(e.RawBase64)
			if err != nil {
				corrupt++
				continue
			}
			e.RawRecord = string(raw)
		}
		entries = append(entries, e.DeadLetterEntry)
	}

	if err := scanner.Err(); err != nil {
		return entries, corrupt, fmt.Errorf("read dead letter file: %w", err)
	}

	return entries, corrupt, nil
}
