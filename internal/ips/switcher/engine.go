package switcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/OpenGG/install-profile-switch/internal/ips/descriptor"
	"github.com/OpenGG/install-profile-switch/internal/ips/discovery"
	"github.com/OpenGG/install-profile-switch/internal/ips/domain"
	"github.com/OpenGG/install-profile-switch/internal/ips/lock"
	"github.com/OpenGG/install-profile-switch/internal/ips/manifest"
	"github.com/OpenGG/install-profile-switch/internal/ips/paths"
	"github.com/OpenGG/install-profile-switch/internal/ips/probe"
	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
	"github.com/OpenGG/install-profile-switch/internal/ips/switchlog"
	"github.com/OpenGG/install-profile-switch/internal/ips/validator"
)

// State is a step of the switch state machine.
type State string

const (
	StateIdle      State = "idle"
	StateVerifying State = "verifying"
	StateStaging   State = "staging"
	StatePromoting State = "promoting"
	StateDemoting  State = "demoting"
	StateVerified  State = "verified"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Outcome describes a finished switch attempt.
type Outcome struct {
	From  string
	To    string
	NoOp  bool
	State State
	Stage domain.Stage
	// Record is the audit entry appended for this attempt; nil for a no-op.
	Record *switchlog.Record
}

// Dependencies groups the collaborators of an Engine.
type Dependencies struct {
	Storage    *storage.Storage
	Paths      *paths.PathBuilder
	Reader     *descriptor.Reader
	Discovery  *discovery.Discovery
	Log        *switchlog.Log
	Probe      probe.Probe
	Manifest   *manifest.Reader
	Locker     lock.Locker
	SteamAppID string
	Logger     *slog.Logger
}

// Engine swaps the active installation with an inactive profile by renaming
// whole directories.
type Engine struct {
	storage    *storage.Storage
	paths      *paths.PathBuilder
	reader     *descriptor.Reader
	discovery  *discovery.Discovery
	log        *switchlog.Log
	probe      probe.Probe
	manifest   *manifest.Reader
	locker     lock.Locker
	steamAppID string
	logger     *slog.Logger
	newAttempt func() string
	onState    func(State)
}

// New creates an Engine. Probe and Locker are optional.
func New(deps Dependencies) (*Engine, error) {
	if deps.Storage == nil || deps.Paths == nil || deps.Reader == nil || deps.Log == nil {
		return nil, errors.New("switcher: storage, paths, reader and log are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	disc := deps.Discovery
	if disc == nil {
		disc = discovery.New(deps.Storage, deps.Paths, deps.Reader, logger)
	}
	pr := deps.Probe
	if pr == nil {
		pr = probe.Static(false)
	}
	return &Engine{
		storage:    deps.Storage,
		paths:      deps.Paths,
		reader:     deps.Reader,
		discovery:  disc,
		log:        deps.Log,
		probe:      pr,
		manifest:   deps.Manifest,
		locker:     deps.Locker,
		steamAppID: deps.SteamAppID,
		logger:     logger,
		newAttempt: uuid.NewString,
	}, nil
}

// OnState registers a hook called on every state transition. Used by tests.
func (e *Engine) OnState(fn func(State)) {
	e.onState = fn
}

// CurrentID returns the identifier declared by the active installation.
func (e *Engine) CurrentID() (string, error) {
	activeDir := e.paths.ActiveDir()
	if ok, err := e.storage.DirExists(activeDir); err != nil {
		return "", fmt.Errorf("failed to inspect active directory: %w", err)
	} else if !ok {
		return "", fmt.Errorf("active directory %s: %w", activeDir, domain.ErrNotFound)
	}
	return e.reader.Extract(e.paths.ActiveDescriptor())
}

// attempt carries the state of one SwitchTo call.
type attempt struct {
	from, to       string
	targetDir      string
	curInactiveDir string
	state          State
	stage          domain.Stage
	done           []move
}

type move struct {
	from, to string
}

// SwitchTo makes target the active installation.
//
// Preconditions are checked before anything is renamed. Once the first rename
// starts the sequence runs to completion or rolls back; ctx is not consulted.
func (e *Engine) SwitchTo(ctx context.Context, target string) (*Outcome, error) {
	at := &attempt{state: StateIdle}

	id, err := validator.Sanitize(target)
	if err != nil {
		return nil, e.fail(at, domain.ErrInvalidIdentifier, "validate target", err)
	}
	at.to = id

	if e.locker != nil {
		locked, err := e.locker.TryLock(ctx)
		if err != nil {
			return nil, e.fail(at, domain.ErrConflictExists, "acquire switch lock", err)
		}
		if !locked {
			return nil, e.fail(at, domain.ErrConflictExists, "acquire switch lock",
				errors.New("another switch is in progress"))
		}
		defer func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("failed to release switch lock", "error", err)
			}
		}()
	}

	if err := ctx.Err(); err != nil {
		return nil, e.fail(at, err, "switch", err)
	}

	e.transition(at, StateVerifying)
	running, err := e.probe.Running(ctx)
	if err != nil {
		return nil, e.fail(at, domain.ErrApplicationRunning, "check application", err)
	}
	if running {
		return nil, e.fail(at, domain.ErrApplicationRunning, "check application",
			errors.New("application is running; close it and retry"))
	}

	curID, err := e.CurrentID()
	if err != nil {
		return nil, e.fail(at, kindOf(err), "read active descriptor", err)
	}
	at.from = curID

	if validator.Equal(curID, id) {
		e.logger.Info("target already active", "id", curID)
		e.transition(at, StateDone)
		return &Outcome{From: curID, To: id, NoOp: true, State: StateDone}, nil
	}

	// From here on both identifiers are known and every attempt is recorded.
	record := switchlog.Record{
		Attempt:      e.newAttempt(),
		Action:       switchlog.ActionSwitch,
		From:         curID,
		To:           id,
		SteamAppID:   e.steamAppID,
		SteamBuildID: e.manifest.BuildID(),
		Result:       switchlog.ResultPending,
	}

	if err := e.verifyTarget(at); err != nil {
		return nil, e.failRecorded(at, &record, err)
	}
	record.To = at.to

	if err := ctx.Err(); err != nil {
		return nil, e.failRecorded(at, &record, e.fail(at, err, "switch", err))
	}

	if err := e.renameSequence(at); err != nil {
		return nil, e.failRecorded(at, &record, err)
	}

	e.transition(at, StateDone)
	record.Result = switchlog.ResultOK
	record.Stage = int(at.stage)
	written := e.log.Append(record)
	e.logger.Info("switch completed",
		"from", curID,
		"to", at.to,
		"attempt", record.Attempt)

	return &Outcome{
		From:   curID,
		To:     at.to,
		State:  StateDone,
		Stage:  at.stage,
		Record: &written,
	}, nil
}

// verifyTarget checks that the target profile is sound and that
// neither the demotion destination nor the staging slot exists.
//
// A profile found by discovery is addressed by its folder on disk, so a target
// typed in a different case still resolves on case-sensitive filesystems.
func (e *Engine) verifyTarget(at *attempt) error {
	listing, err := e.discovery.List()
	if err != nil {
		return e.fail(at, kindOf(err), "scan inactive profiles", err)
	}
	if conflict, ok := listing.Conflict(at.to); ok {
		return e.fail(at, domain.ErrConflictExists, "scan inactive profiles",
			fmt.Errorf("profile %q is ambiguous: %v", at.to, conflict.Folders))
	}
	at.targetDir = e.paths.InactiveDir(at.to)
	if profile, ok := listing.Get(at.to); ok {
		at.to = profile.ID
		at.targetDir = profile.Dir
	}
	if !e.paths.IsSlot(at.targetDir) {
		return e.fail(at, domain.ErrInvalidIdentifier, "inspect target profile",
			fmt.Errorf("%s is outside %s", at.targetDir, e.paths.Root()))
	}
	targetDescriptor := e.paths.Descriptor(at.targetDir)

	if ok, err := e.storage.DirExists(at.targetDir); err != nil {
		return e.fail(at, domain.ErrNotFound, "inspect target profile", err)
	} else if !ok {
		return e.fail(at, domain.ErrNotFound, "inspect target profile",
			fmt.Errorf("target profile %q not found at %s", at.to, at.targetDir))
	}
	if ok, err := e.storage.FileExists(targetDescriptor); err != nil {
		return e.fail(at, domain.ErrNotFound, "inspect target descriptor", err)
	} else if !ok {
		return e.fail(at, domain.ErrNotFound, "inspect target descriptor",
			fmt.Errorf("descriptor missing at %s", targetDescriptor))
	}

	declared, err := e.reader.Extract(targetDescriptor)
	if err != nil {
		return e.fail(at, kindOf(err), "read target descriptor", err)
	}
	if !validator.Equal(declared, at.to) {
		return e.fail(at, domain.ErrDescriptorMismatch, "read target descriptor",
			fmt.Errorf("%s declares %q, expected %q", targetDescriptor, declared, at.to))
	}

	at.curInactiveDir = e.paths.InactiveDir(at.from)
	if !e.paths.IsSlot(at.curInactiveDir) {
		return e.fail(at, domain.ErrInvalidIdentifier, "inspect demotion target",
			fmt.Errorf("%s is outside %s", at.curInactiveDir, e.paths.Root()))
	}
	if exists, err := e.storage.Exists(at.curInactiveDir); err != nil {
		return e.fail(at, domain.ErrConflictExists, "inspect demotion target", err)
	} else if exists {
		return e.fail(at, domain.ErrConflictExists, "inspect demotion target",
			fmt.Errorf("%s already exists; clean it up manually", at.curInactiveDir))
	}

	staging := e.paths.StagingDir()
	if exists, err := e.storage.Exists(staging); err != nil {
		return e.fail(at, domain.ErrConflictExists, "inspect staging slot", err)
	} else if exists {
		return e.fail(at, domain.ErrConflictExists, "inspect staging slot",
			fmt.Errorf("%s exists; a previous switch was interrupted", staging))
	}
	return nil
}

// renameSequence performs the three renames and the post-switch check,
// rolling back completed renames on failure.
func (e *Engine) renameSequence(at *attempt) error {
	active := e.paths.ActiveDir()
	staging := e.paths.StagingDir()

	steps := []struct {
		state State
		stage domain.Stage
		op    string
		from  string
		to    string
	}{
		{StateStaging, domain.StageStaged, "move active to staging", active, staging},
		{StatePromoting, domain.StagePromoted, "promote target", at.targetDir, active},
		{StateDemoting, domain.StageDemoted, "demote previous active", staging, at.curInactiveDir},
	}

	for _, step := range steps {
		e.transition(at, step.state)
		if err := e.storage.RenameDir(step.from, step.to); err != nil {
			return e.rollback(at, domain.ErrRenameFailed, step.op, err)
		}
		at.done = append(at.done, move{from: step.from, to: step.to})
		at.stage = step.stage
		e.logger.Debug("rename completed",
			"stage", int(step.stage),
			"from", step.from,
			"to", step.to)
	}

	after, err := e.reader.Extract(e.paths.ActiveDescriptor())
	if err != nil {
		return e.rollback(at, domain.ErrPostVerificationFailed, "verify active descriptor", err)
	}
	if !validator.Equal(after, at.to) {
		return e.rollback(at, domain.ErrPostVerificationFailed, "verify active descriptor",
			fmt.Errorf("active descriptor declares %q after switch, expected %q", after, at.to))
	}
	e.transition(at, StateVerified)
	return nil
}

// rollback undoes completed renames in reverse order. Failures are captured on
// the returned error and logged, never raised.
func (e *Engine) rollback(at *attempt, kind error, op string, cause error) error {
	serr := e.fail(at, kind, op, cause).(*domain.SwitchError)
	for i := len(at.done) - 1; i >= 0; i-- {
		m := at.done[i]
		step := domain.RollbackStep{From: m.to, To: m.from}
		step.Err = e.storage.RenameDir(m.to, m.from)
		if step.Err != nil {
			e.logger.Error("rollback rename failed",
				"from", step.From,
				"to", step.To,
				"error", step.Err)
		} else {
			e.logger.Info("rollback rename completed",
				"from", step.From,
				"to", step.To)
		}
		serr.Rollback = append(serr.Rollback, step)
	}
	return serr
}

func (e *Engine) fail(at *attempt, kind error, op string, cause error) error {
	e.transition(at, StateFailed)
	return &domain.SwitchError{Kind: kind, Stage: at.stage, Op: op, Err: cause}
}

// failRecorded appends the error record for err and returns err.
func (e *Engine) failRecorded(at *attempt, record *switchlog.Record, err error) error {
	record.Result = switchlog.ResultError
	record.Stage = int(at.stage)
	record.Error = err.Error()
	var serr *domain.SwitchError
	if errors.As(err, &serr) {
		for _, step := range serr.Rollback {
			record.Rollback = append(record.Rollback, step.String())
		}
	}
	e.log.Append(*record)
	e.logger.Error("switch failed",
		"from", record.From,
		"to", record.To,
		"stage", record.Stage,
		"attempt", record.Attempt,
		"error", err)
	return err
}

func (e *Engine) transition(at *attempt, next State) {
	at.state = next
	if e.onState != nil {
		e.onState(next)
	}
}

// kindOf maps a descriptor or discovery error to its sentinel.
func kindOf(err error) error {
	for _, kind := range []error{
		domain.ErrInvalidIdentifier,
		domain.ErrNotFound,
		domain.ErrMalformedDescriptor,
		domain.ErrDescriptorMismatch,
		domain.ErrConflictExists,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return domain.ErrNotFound
}
