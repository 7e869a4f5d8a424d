package ips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/OpenGG/install-profile-switch/internal/ips/config"
	"github.com/OpenGG/install-profile-switch/internal/ips/descriptor"
	"github.com/OpenGG/install-profile-switch/internal/ips/discovery"
	"github.com/OpenGG/install-profile-switch/internal/ips/lock"
	"github.com/OpenGG/install-profile-switch/internal/ips/manifest"
	"github.com/OpenGG/install-profile-switch/internal/ips/paths"
	"github.com/OpenGG/install-profile-switch/internal/ips/probe"
	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
	"github.com/OpenGG/install-profile-switch/internal/ips/switcher"
	"github.com/OpenGG/install-profile-switch/internal/ips/switchlog"
)

// Manager is the entry point used by the CLI. It wires the discovery,
// switch engine and audit log for one configured installations root.
type Manager struct {
	fs        afero.Fs
	conf      *config.Config
	storage   *storage.Storage
	paths     *paths.PathBuilder
	reader    *descriptor.Reader
	discovery *discovery.Discovery
	log       *switchlog.Log
	manifest  *manifest.Reader
	probe     probe.Probe
	engine    *switcher.Engine
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a Manager.
type Option func(*options)

type options struct {
	probe  probe.Probe
	locker lock.Locker
}

// WithProbe replaces the process-list probe.
func WithProbe(p probe.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithLocker serialises switches through l.
func WithLocker(l lock.Locker) Option {
	return func(o *options) { o.locker = l }
}

// NewManager creates a Manager over fs. A nil logger discards output.
func NewManager(fs afero.Fs, conf *config.Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if fs == nil {
		return nil, errors.New("filesystem cannot be nil")
	}
	if conf == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.probe == nil {
		o.probe = probe.New(conf.ProcessName)
	}

	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}

	st := storage.New(fs)
	pb := conf.Paths()
	reader := descriptor.New(st)
	disc := discovery.New(st, pb, reader, logger)
	log := switchlog.New(st, pb.LogPath(conf.LogPath), loc, logger)
	if !filepath.IsAbs(conf.LogPath) {
		log.SetFallback(pb.ActiveDir(), pb.FallbackLogPath())
	}
	mf := manifest.New(st, conf.ManifestPath)

	engine, err := switcher.New(switcher.Dependencies{
		Storage:    st,
		Paths:      pb,
		Reader:     reader,
		Discovery:  disc,
		Log:        log,
		Probe:      o.probe,
		Manifest:   mf,
		Locker:     o.locker,
		SteamAppID: conf.SteamAppID,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		fs:        fs,
		conf:      conf,
		storage:   st,
		paths:     pb,
		reader:    reader,
		discovery: disc,
		log:       log,
		manifest:  mf,
		probe:     o.probe,
		engine:    engine,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetNow allows overriding the clock for testing.
func (m *Manager) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.now = now
	m.log.SetNow(now)
}

// Now returns the current time of the Manager's clock.
func (m *Manager) Now() time.Time {
	return m.now()
}

// FileSystem returns the underlying filesystem.
func (m *Manager) FileSystem() afero.Fs {
	return m.fs
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() *config.Config {
	return m.conf
}

// Paths returns the layout of the installations root.
func (m *Manager) Paths() *paths.PathBuilder {
	return m.paths
}

// LogPath returns the audit log location.
func (m *Manager) LogPath() string {
	return m.log.Path()
}

// ListInactiveProfiles returns the switchable profiles, naturally ordered.
func (m *Manager) ListInactiveProfiles() (discovery.Listing, error) {
	return m.discovery.List()
}

// CurrentActiveIdentifier returns the identifier of the active installation.
func (m *Manager) CurrentActiveIdentifier() (string, error) {
	return m.engine.CurrentID()
}

// SwitchTo makes id the active installation.
func (m *Manager) SwitchTo(ctx context.Context, id string) (*switcher.Outcome, error) {
	return m.engine.SwitchTo(ctx, id)
}

// Status is a snapshot of the installations root.
type Status struct {
	Root       string
	ActiveID   string
	ActiveErr  error
	SteamAppID string
	BuildID    string
	Running    bool
	ProbeErr   error
	Profiles   discovery.Listing
	ListErr    error
	// StagingLeftover is set when a previous switch left the staging slot behind.
	StagingLeftover bool
	LastSwitch      *switchlog.Record
	LogPath         string
}

// Status gathers everything the status command shows. Individual failures are
// reported on the result; only a cancelled context is returned as an error.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := &Status{
		Root:       m.paths.Root(),
		SteamAppID: m.conf.SteamAppID,
		BuildID:    m.manifest.BuildID(),
		LogPath:    m.log.Path(),
	}
	st.ActiveID, st.ActiveErr = m.engine.CurrentID()
	st.Running, st.ProbeErr = m.probe.Running(ctx)
	st.Profiles, st.ListErr = m.discovery.List()

	leftover, err := m.discovery.StagingLeftover()
	if err != nil {
		m.logger.Warn("failed to inspect staging slot", "error", err)
	}
	st.StagingLeftover = leftover

	last, ok, err := m.log.Last()
	if err != nil {
		m.logger.Warn("failed to read switch log",
			"path", m.log.Path(),
			"error", err)
	} else if ok {
		st.LastSwitch = &last
	}
	return st, nil
}

// History returns audit records, oldest first. since > 0 keeps records not
// older than since; limit > 0 keeps the newest limit records.
func (m *Manager) History(since time.Duration, limit int) ([]switchlog.Record, error) {
	records, err := m.log.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read switch log: %w", err)
	}
	if since > 0 {
		cutoff := m.now().Add(-since)
		kept := records[:0]
		for _, r := range records {
			ts, err := r.Time()
			if err != nil || ts.Before(cutoff) {
				continue
			}
			kept = append(kept, r)
		}
		records = kept
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// FollowHistory streams new audit records to fn until ctx is cancelled.
func (m *Manager) FollowHistory(ctx context.Context, fn func(switchlog.Record)) error {
	return m.log.Follow(ctx, fn)
}
