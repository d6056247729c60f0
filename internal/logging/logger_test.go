package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{"Debug", slog.LevelDebug},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level      string
		wantDebug  bool
		wantTraced bool
	}{
		{"info", false, false},
		{"debug", true, false},
		{"trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.wantDebug {
				t.Errorf("debug visible = %v, want %v (buf: %q)", got, tt.wantDebug, buf.String())
			}

			buf.Reset()
			logger.Log(context.Background(), LevelTrace, "line", "text", "add entity a")
			if got := strings.Contains(buf.String(), "level=TRACE"); got != tt.wantTraced {
				t.Errorf("trace visible = %v, want %v (buf: %q)", got, tt.wantTraced, buf.String())
			}
		})
	}
}

func readJournal(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read journal: %v", err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse journal line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestOpenJournal_InfoLevelDisabled(t *testing.T) {
	dir := t.TempDir()
	j := OpenJournal(dir, "info")
	if j != nil {
		t.Fatal("OpenJournal() at info level = non-nil, want nil")
	}

	j.Record("create_entity", map[string]any{"name": "a"})
	j.Close()
	if j.Session() != "" {
		t.Errorf("nil Session() = %q, want empty", j.Session())
	}

	if _, err := os.Stat(filepath.Join(dir, JournalFile)); err == nil {
		t.Error("journal file should not exist at info level")
	}
}

func TestOpenJournal_RecordsWithSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "journal")
	j := OpenJournal(dir, "debug")
	if j == nil {
		t.Fatal("OpenJournal() at debug level = nil")
	}
	if _, err := uuid.Parse(j.Session()); err != nil {
		t.Errorf("Session() = %q is not a uuid: %v", j.Session(), err)
	}

	fields := map[string]any{"name": "hero", "id": 1}
	j.Record("create_entity", fields)
	j.Record("set_attribute", map[string]any{"name": "health", "value": 90})
	j.Close()

	if _, ok := fields["op"]; ok {
		t.Error("Record() mutated the caller's map")
	}

	entries := readJournal(t, filepath.Join(dir, JournalFile))
	if len(entries) != 2 {
		t.Fatalf("journal has %d lines, want 2", len(entries))
	}
	if entries[0]["op"] != "create_entity" || entries[0]["name"] != "hero" {
		t.Errorf("first entry = %v", entries[0])
	}
	if entries[1]["value"] != float64(90) {
		t.Errorf("second entry value = %v, want 90", entries[1]["value"])
	}
	for _, e := range entries {
		if e["session"] != j.Session() {
			t.Errorf("entry session = %v, want %s", e["session"], j.Session())
		}
		if _, ok := e["time"]; !ok {
			t.Error("entry missing time")
		}
	}
}

func TestJournal_SessionsDiffer(t *testing.T) {
	dir := t.TempDir()
	a := OpenJournal(dir, "trace")
	b := OpenJournal(dir, "trace")
	defer a.Close()
	defer b.Close()

	if a.Session() == b.Session() {
		t.Errorf("two journals share session %s", a.Session())
	}
}

func TestJournal_RecordAfterClose(t *testing.T) {
	j := OpenJournal(t.TempDir(), "debug")
	j.Close()
	j.Record("tick", nil)
}

func TestOpenJournal_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	j := OpenJournal(dir, "debug")
	j.Record("tick", nil)
	j.Close()

	info, err := os.Stat(filepath.Join(dir, JournalFile))
	if err != nil {
		t.Fatalf("failed to stat journal: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
