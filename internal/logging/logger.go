// Package logging provides leveled logging and the change journal for ecsrepl.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A Journal of applied store mutations as JSONL (<dir>/journal.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LevelTrace is a custom slog level below Debug. At this level every REPL
// line is logged before it runs.
const LevelTrace = slog.LevelDebug - 4

// JournalFile is the journal's file name inside its directory.
const JournalFile = "journal.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Journal appends one JSON line per applied store mutation. Every line carries
// the session ID of the process that wrote it, so several runs can share a
// file. A nil Journal is valid and discards everything.
type Journal struct {
	mu      sync.Mutex
	w       io.WriteCloser
	session string
}

// OpenJournal opens dir/journal.jsonl for append. Below debug level there is
// no journal and nil is returned. It also returns nil when the directory or
// file cannot be created; journaling never blocks the REPL.
func OpenJournal(dir string, level string) *Journal {
	if ParseLevel(level) > slog.LevelDebug || dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, JournalFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return NewJournal(f)
}

// NewJournal writes journal lines to w under a fresh session ID.
func NewJournal(w io.WriteCloser) *Journal {
	return &Journal{w: w, session: uuid.NewString()}
}

// Session returns the journal's session ID, or "" for a nil journal.
func (j *Journal) Session() string {
	if j == nil {
		return ""
	}
	return j.session
}

// Record writes one event. "time", "session" and "op" are added; the
// caller's map is not mutated.
func (j *Journal) Record(op string, fields map[string]any) {
	if j == nil {
		return
	}

	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["op"] = op
	entry["session"] = j.session
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w != nil {
		_, _ = j.w.Write(data)
	}
}

// Close closes the underlying writer. Safe to call on a nil journal.
func (j *Journal) Close() {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w != nil {
		j.w.Close()
		j.w = nil
	}
}
