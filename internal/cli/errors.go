package cli

import "errors"

var (
	// ErrPromptCancelled indicates that the user aborted an interactive prompt.
	ErrPromptCancelled = errors.New("prompt cancelled")
	// ErrNotInteractive is returned when a prompt is needed but stdin is not a terminal.
	ErrNotInteractive = errors.New("stdin is not a terminal")
)
