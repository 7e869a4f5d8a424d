package switchlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
)

var fixedTime = time.Date(2026, 1, 10, 12, 30, 0, 0, time.UTC)

func newTestLog(t *testing.T, fs afero.Fs, path string) *Log {
	t.Helper()
	tokyo := time.FixedZone("JST", 9*60*60)
	l := New(storage.New(fs), path, tokyo, nil)
	l.SetNow(func() time.Time { return fixedTime })
	return l
}

func TestAppend_WritesOneJSONLinePerRecord(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := newTestLog(t, fs, "/g/App/log/switch.log")

	first := l.Append(Record{From: "A1", To: "B2", Result: ResultOK, SteamAppID: "945360"})
	l.Append(Record{From: "B2", To: "C3", Result: ResultError, Error: "rename failed", Stage: 1})

	if first.Timestamp != "2026-01-10T21:30:00+09:00" {
		t.Fatalf("unexpected timestamp %q", first.Timestamp)
	}
	if first.Action != ActionSwitch {
		t.Fatalf("expected default action, got %q", first.Action)
	}

	data, err := afero.ReadFile(fs, "/g/App/log/switch.log")
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &fields); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	for _, key := range []string{"ts", "action", "from", "to", "steam_app_id", "result"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected field %q in %s", key, lines[0])
		}
	}
	if _, ok := fields["error"]; ok {
		t.Errorf("error field must be omitted on success: %s", lines[0])
	}
}

func TestAppend_KeepsExplicitTimestamp(t *testing.T) {
	l := newTestLog(t, afero.NewMemMapFs(), "/log/switch.log")
	rec := l.Append(Record{Timestamp: "2025-05-05T05:05:05Z", From: "a", To: "b", Result: ResultOK})
	if rec.Timestamp != "2025-05-05T05:05:05Z" {
		t.Fatalf("timestamp overwritten: %q", rec.Timestamp)
	}
}

func TestAppend_SwallowsFailures(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	l := newTestLog(t, fs, "/log/switch.log")

	rec := l.Append(Record{From: "a", To: "b", Result: ResultOK})
	if rec.Timestamp == "" {
		t.Fatal("expected record to be returned even when the write fails")
	}
	records, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected nothing written, got %d", len(records))
	}
}

func TestRead_SkipsMalformedLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `{"ts":"2026-01-10T21:30:00+09:00","action":"switch","from":"A1","to":"B2","result":"ok","stage":3}
not json

{"ts":"2026-01-11T08:00:00+09:00","action":"switch","from":"B2","to":"A1","result":"error","stage":0,"error":"boom"}
`
	if err := afero.WriteFile(fs, "/log/switch.log", []byte(content), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	l := newTestLog(t, fs, "/log/switch.log")

	records, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	last, ok, err := l.Last()
	if err != nil || !ok {
		t.Fatalf("Last: ok=%v err=%v", ok, err)
	}
	if last.Error != "boom" || last.Result != ResultError {
		t.Fatalf("unexpected last record %+v", last)
	}
	ts, err := last.Time()
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !ts.Equal(time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parsed time %v", ts)
	}
}

func TestRead_MissingFile(t *testing.T) {
	l := newTestLog(t, afero.NewMemMapFs(), "/log/switch.log")
	records, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if records != nil {
		t.Fatalf("expected no records, got %v", records)
	}
	if _, ok, _ := l.Last(); ok {
		t.Fatal("expected no last record")
	}
}

func TestFollow_EmitsNewRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log", "switch.log")
	l := newTestLog(t, afero.NewOsFs(), path)
	l.SetPollInterval(20 * time.Millisecond)

	old := fixedTime.Add(-time.Hour).Format(time.RFC3339)
	l.Append(Record{Timestamp: old, Attempt: "old", From: "x", To: "y", Result: ResultOK})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Record, 4)
	done := make(chan error, 1)
	go func() {
		done <- l.Follow(ctx, func(r Record) { got <- r })
	}()

	l.Append(Record{Attempt: "new", From: "A1", To: "B2", Result: ResultOK})

	select {
	case r := <-got:
		if r.Attempt != "new" {
			t.Fatalf("expected only the new record, got %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for followed record")
	}

	select {
	case r := <-got:
		t.Fatalf("record emitted twice: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Follow returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not stop after cancel")
	}
}

func TestAppend_WritesFallbackWhenAnchorMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := newTestLog(t, fs, "/g/App/log/switch.log")
	l.SetFallback("/g/App", "/g/.App.switch.log")

	l.Append(Record{From: "A1", To: "B2", Result: ResultError, Stage: 1})

	if exists, _ := afero.DirExists(fs, "/g/App"); exists {
		t.Fatal("Append must not create the anchor directory")
	}
	data, err := afero.ReadFile(fs, "/g/.App.switch.log")
	if err != nil {
		t.Fatalf("read fallback: %v", err)
	}
	if !strings.Contains(string(data), `"from":"A1"`) {
		t.Fatalf("unexpected fallback content %q", data)
	}

	if err := fs.MkdirAll("/g/App", 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	later := fixedTime.Add(time.Minute).Format(time.RFC3339)
	l.Append(Record{Timestamp: later, From: "A1", To: "B2", Result: ResultOK, Stage: 3})
	if exists, _ := afero.Exists(fs, "/g/App/log/switch.log"); !exists {
		t.Fatal("expected primary log once the anchor exists")
	}

	records, err := l.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 || records[0].Result != ResultError || records[1].Result != ResultOK {
		t.Fatalf("expected merged records in time order, got %+v", records)
	}
}

func TestAppend_DropsRecordWithoutAnchorOrFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := newTestLog(t, fs, "/g/App/log/switch.log")
	l.SetFallback("/g/App", "")

	rec := l.Append(Record{From: "A1", To: "B2", Result: ResultError})
	if rec.Timestamp == "" {
		t.Fatal("expected stamped record")
	}
	if exists, _ := afero.Exists(fs, "/g/App"); exists {
		t.Fatal("Append must not create the anchor directory")
	}
}
