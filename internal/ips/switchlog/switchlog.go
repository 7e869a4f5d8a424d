package switchlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
)

// Result is the outcome stored on a switch record.
type Result string

const (
	ResultPending Result = "pending"
	ResultOK      Result = "ok"
	ResultError   Result = "error"
)

// ActionSwitch is the only action the engine records.
const ActionSwitch = "switch"

const defaultPollInterval = 2 * time.Second

// Record is one audit entry. Records are appended once and never rewritten.
type Record struct {
	Timestamp    string   `json:"ts"`
	Attempt      string   `json:"attempt,omitempty"`
	Action       string   `json:"action"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	SteamAppID   string   `json:"steam_app_id,omitempty"`
	SteamBuildID string   `json:"steam_buildid,omitempty"`
	Result       Result   `json:"result"`
	Stage        int      `json:"stage"`
	Error        string   `json:"error,omitempty"`
	Rollback     []string `json:"rollback,omitempty"`
}

// Time parses the record timestamp.
func (r Record) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, r.Timestamp)
}

// Log appends switch records to a JSON-lines file.
type Log struct {
	storage      *storage.Storage
	path         string
	anchor       string
	fallback     string
	location     *time.Location
	now          func() time.Time
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates a Log writing to path. A nil location means the local zone.
func New(storage *storage.Storage, path string, location *time.Location, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if location == nil {
		location = time.Local
	}
	return &Log{
		storage:      storage,
		path:         path,
		location:     location,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// SetNow allows overriding the clock for testing.
func (l *Log) SetNow(now func() time.Time) {
	if now == nil {
		l.now = time.Now
		return
	}
	l.now = now
}

// SetPollInterval changes how often Follow re-reads the file without a watch event.
func (l *Log) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = defaultPollInterval
	}
	l.pollInterval = d
}

// SetFallback makes Append write to fallback whenever the anchor directory is
// missing. The log normally lives inside the active installation; after an
// incomplete rollback that folder may be gone and must not be recreated.
func (l *Log) SetFallback(anchor, fallback string) {
	l.anchor = anchor
	l.fallback = fallback
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Timestamp formats t the way records are stamped.
func (l *Log) Timestamp(t time.Time) string {
	return t.In(l.location).Format(time.RFC3339)
}

// Append writes record as a single line and returns it with its timestamp set.
//
// Failures are logged and swallowed: the audit trail must never change the
// outcome a caller sees.
func (l *Log) Append(record Record) Record {
	if record.Timestamp == "" {
		record.Timestamp = l.Timestamp(l.now())
	}
	if record.Action == "" {
		record.Action = ActionSwitch
	}

	line, err := json.Marshal(record)
	if err != nil {
		l.logger.Warn("failed to encode switch record",
			"path", l.path,
			"error", err)
		return record
	}
	line = append(line, '\n')

	path := l.writePath()
	if path == "" {
		l.logger.Warn("switch record not written: log directory is gone",
			"anchor", l.anchor,
			"record", string(bytes.TrimSpace(line)))
		return record
	}
	if err := l.storage.AppendFile(path, line); err != nil {
		l.logger.Warn("failed to append switch record",
			"path", path,
			"error", err)
		return record
	}
	l.logger.Debug("switch record appended",
		"path", path,
		"attempt", record.Attempt,
		"result", record.Result)
	return record
}

// writePath picks the file Append writes to, or "" when there is none.
func (l *Log) writePath() string {
	if l.anchor == "" {
		return l.path
	}
	if ok, err := l.storage.DirExists(l.anchor); err == nil && ok {
		return l.path
	}
	if l.fallback != "" {
		l.logger.Warn("log directory missing, writing switch record to fallback",
			"anchor", l.anchor,
			"fallback", l.fallback)
	}
	return l.fallback
}

// Read returns every well-formed record in file order. A missing file yields
// no records. Records from the fallback file are merged in by timestamp.
func (l *Log) Read() ([]Record, error) {
	records, err := l.readFile(l.path)
	if err != nil {
		return nil, err
	}
	if l.fallback == "" {
		return records, nil
	}
	extra, err := l.readFile(l.fallback)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return records, nil
	}
	records = append(records, extra...)
	slices.SortStableFunc(records, func(a, b Record) int {
		ta, errA := a.Time()
		tb, errB := b.Time()
		if errA != nil || errB != nil {
			return 0
		}
		return ta.Compare(tb)
	})
	return records, nil
}

func (l *Log) readFile(path string) ([]Record, error) {
	data, err := l.storage.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read switch log: %w", err)
	}
	return l.decode(path, data), nil
}

// Last returns the newest record, or false when the log is empty.
func (l *Log) Last() (Record, bool, error) {
	records, err := l.Read()
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[len(records)-1], true, nil
}

func (l *Log) decode(path string, data []byte) []Record {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			l.logger.Debug("skipping malformed switch record",
				"path", path,
				"error", err)
			continue
		}
		records = append(records, record)
	}
	return records
}

// Follow calls fn for every record stamped at or after the moment Follow
// starts, until ctx is cancelled.
//
// The log lives inside the active installation, so a switch replaces the file
// under the watched path. Records are therefore re-read by path and
// de-duplicated by attempt instead of tracking a file offset.
func (l *Log) Follow(ctx context.Context, fn func(Record)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}
	defer watcher.Close()

	start := l.now().Truncate(time.Second)
	seen := make(map[string]struct{})
	l.watch(watcher)
	l.drain(start, seen, fn)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.watch(watcher)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Debug("switch log watcher error", "error", werr)
			continue
		case <-ticker.C:
			l.watch(watcher)
		}
		l.drain(start, seen, fn)
	}
}

// watch (re)registers the log directory; it may not exist yet, or may have
// been moved away by a switch.
func (l *Log) watch(watcher *fsnotify.Watcher) {
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		l.logger.Debug("cannot watch switch log directory",
			"dir", dir,
			"error", err)
	}
}

func (l *Log) drain(start time.Time, seen map[string]struct{}, fn func(Record)) {
	records, err := l.Read()
	if err != nil {
		l.logger.Debug("failed to re-read switch log", "error", err)
		return
	}
	for _, record := range records {
		if ts, err := record.Time(); err == nil && ts.Before(start) {
			continue
		}
		key := record.Attempt
		if key == "" {
			key = record.Timestamp + "|" + record.From + "|" + record.To + "|" + string(record.Result)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fn(record)
	}
}
