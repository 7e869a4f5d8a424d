package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Exported error variables allow callers to use errors.Is() for error checking.
var (
	ErrInvalidIdentifier      = errors.New("invalid identifier")
	ErrNotFound               = errors.New("not found")
	ErrMalformedDescriptor    = errors.New("malformed descriptor")
	ErrDescriptorMismatch     = errors.New("descriptor identifier mismatch")
	ErrConflictExists         = errors.New("conflicting directory exists")
	ErrRenameFailed           = errors.New("rename failed")
	ErrPostVerificationFailed = errors.New("post-switch verification failed")
	ErrApplicationRunning     = errors.New("application is running")
)

// Identifier validation details. Both wrap ErrInvalidIdentifier.
var (
	ErrIdentifierEmpty        = fmt.Errorf("%w: identifier cannot be empty", ErrInvalidIdentifier)
	ErrIdentifierInvalidChars = fmt.Errorf("%w: identifier contains invalid characters (/:*?\"<>|)", ErrInvalidIdentifier)
)

// Stage is the number of renames a switch attempt completed.
type Stage int

const (
	StageNone     Stage = 0 // nothing renamed yet
	StageStaged   Stage = 1 // active moved to the staging slot
	StagePromoted Stage = 2 // target moved into the active slot
	StageDemoted  Stage = 3 // staging moved to the inactive name of the previous id
)

// RollbackStep is one reverse rename attempted after a failed switch.
type RollbackStep struct {
	From string `json:"from"`
	To   string `json:"to"`
	Err  error  `json:"-"`
}

// Failed reports whether the reverse rename did not succeed.
func (r RollbackStep) Failed() bool {
	return r.Err != nil
}

func (r RollbackStep) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s -> %s: %v", r.From, r.To, r.Err)
	}
	return fmt.Sprintf("%s -> %s: ok", r.From, r.To)
}

// SwitchError describes a failed switch attempt.
//
// Kind is one of the sentinel errors above; Err is the underlying cause.
// errors.Is matches either of them.
type SwitchError struct {
	Kind     error
	Stage    Stage
	Op       string
	Err      error
	Rollback []RollbackStep
}

func (e *SwitchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.Error())
	}
	if failed := e.FailedRollback(); len(failed) > 0 {
		b.WriteString(" (rollback incomplete, manual cleanup required: ")
		for i, step := range failed {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(step.String())
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *SwitchError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether the failure happened before any rename, leaving the
// filesystem untouched.
func (e *SwitchError) Retryable() bool {
	return e.Stage == StageNone
}

// FailedRollback returns the reverse renames that did not succeed.
func (e *SwitchError) FailedRollback() []RollbackStep {
	var failed []RollbackStep
	for _, step := range e.Rollback {
		if step.Failed() {
			failed = append(failed, step)
		}
	}
	return failed
}
