package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/voxel"
)

// EventEntry is one build diagnostic as written to disk.
type EventEntry struct {
	BuildID string     `json:"build_id"`
	TimeMs  int64      `json:"time_ms"`
	Event   diag.Event `json:"event"`
}

// EventLogger writes build diagnostics (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(v EventEntry) error { return l.w.Write(v) }
func (l *EventLogger) Close() error                  { return l.w.Close() }

// Sink tags every event with buildID. Write errors are passed to onErr, which
// may be nil.
func (l *EventLogger) Sink(buildID string, onErr func(error)) diag.Sink {
	return diag.Func(func(e diag.Event) {
		err := l.WriteEvent(EventEntry{BuildID: buildID, TimeMs: l.w.now().UnixMilli(), Event: e})
		if err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// AuditRecord is one voxel change as written to disk.
type AuditRecord struct {
	WorldID string           `json:"world_id"`
	TimeMs  int64            `json:"time_ms"`
	Entry   voxel.AuditEntry `json:"entry"`
}

// AuditLogger writes voxel changes (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v AuditRecord) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                   { return l.w.Close() }

// Auditor adapts the logger to voxel.World.SetAuditor.
func (l *AuditLogger) Auditor(worldID string, onErr func(error)) voxel.Auditor {
	return func(e voxel.AuditEntry) {
		err := l.WriteAudit(AuditRecord{WorldID: worldID, TimeMs: l.w.now().UnixMilli(), Entry: e})
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// Files lists the hourly files under dir for prefix, oldest first.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadJSONL calls fn for every line of a .jsonl.zst file. A file cut short by
// a crash yields the lines that made it to disk.
func ReadJSONL(path string, fn func(line json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(append(json.RawMessage(nil), line...)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}
