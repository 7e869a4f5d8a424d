package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Probe tells whether the application is currently running.
type Probe interface {
	Running(ctx context.Context) (bool, error)
}

// Func adapts a function to the Probe interface.
type Func func(ctx context.Context) (bool, error)

// Running calls f.
func (f Func) Running(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Static is a Probe with a fixed answer.
type Static bool

// Running returns the fixed answer.
func (s Static) Running(context.Context) (bool, error) {
	return bool(s), nil
}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ProcessList searches the platform process listing for an image name.
type ProcessList struct {
	image   string
	command []string
	run     Runner
}

// New creates a ProcessList probe looking for image (e.g. "Among Us.exe").
func New(image string) *ProcessList {
	return &ProcessList{
		image:   image,
		command: DefaultCommand(runtime.GOOS),
		run:     execRunner,
	}
}

// DefaultCommand returns the process lister used on goos.
func DefaultCommand(goos string) []string {
	if goos == "windows" {
		return []string{"tasklist"}
	}
	// Full argument lists: Wine/Proton processes show the Windows image path there.
	return []string{"ps", "-A", "-o", "args="}
}

// SetRunner allows overriding command execution for testing.
func (p *ProcessList) SetRunner(run Runner) {
	if run == nil {
		run = execRunner
	}
	p.run = run
}

// Running reports whether the image name appears in the process listing,
// ignoring case. An empty image name disables the check.
func (p *ProcessList) Running(ctx context.Context) (bool, error) {
	if strings.TrimSpace(p.image) == "" {
		return false, nil
	}
	out, err := p.run(ctx, p.command[0], p.command[1:]...)
	if err != nil {
		return false, fmt.Errorf("failed to list processes with %s: %w", p.command[0], err)
	}
	return bytes.Contains(bytes.ToLower(out), bytes.ToLower([]byte(p.image))), nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
