package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/afero"

	"github.com/OpenGG/install-profile-switch/internal/cli"
	"github.com/OpenGG/install-profile-switch/internal/ips"
	"github.com/OpenGG/install-profile-switch/internal/ips/config"
	"github.com/OpenGG/install-profile-switch/internal/ips/lock/flock"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := cli.NewRootCommand(buildManager, cli.NewPromptUI(), stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func buildManager(conf *config.Config, logger *slog.Logger) (*ips.Manager, error) {
	return ips.NewManager(afero.NewOsFs(), conf, logger, ips.WithLocker(flock.New(conf.LockPath)))
}
