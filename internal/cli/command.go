package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OpenGG/install-profile-switch/internal/ips"
	"github.com/OpenGG/install-profile-switch/internal/ips/config"
	"github.com/OpenGG/install-profile-switch/internal/ips/domain"
	"github.com/OpenGG/install-profile-switch/internal/ips/switchlog"
)

// Builder creates the Manager once configuration and logging are resolved.
type Builder func(conf *config.Config, logger *slog.Logger) (*ips.Manager, error)

// managerFunc returns the Manager for the running command.
type managerFunc func() (*ips.Manager, error)

var isInteractive = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewRootCommand constructs the root Cobra command for ips.
func NewRootCommand(build Builder, prompter Prompter, stdout, stderr io.Writer) *cobra.Command {
	var (
		cfgFile string
		verbose bool
		mgr     *ips.Manager
	)
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "ips",
		Short:         "Install Profile Switcher",
		Long:          "ips swaps the active game installation with a parked profile by renaming folders.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root", "", "installations root (e.g. steamapps/common)")
	cmd.PersistentFlags().String("base-name", "", "folder name of the active installation")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = v.BindPFlag(config.KeyInstallRoot, cmd.PersistentFlags().Lookup("root"))
	_ = v.BindPFlag(config.KeyBaseName, cmd.PersistentFlags().Lookup("base-name"))

	provider := func() (*ips.Manager, error) {
		if mgr != nil {
			return mgr, nil
		}
		conf, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, err
		}
		mgr, err = build(conf, newLogger(stderr, verbose))
		return mgr, err
	}

	cmd.AddCommand(newStatusCommand(provider, stdout))
	cmd.AddCommand(newListCommand(provider, stdout))
	cmd.AddCommand(newSwitchCommand(provider, prompter, stdout))
	cmd.AddCommand(newHistoryCommand(provider, stdout))

	return cmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newStatusCommand(manager managerFunc, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active installation and switch state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := manager()
			if err != nil {
				return err
			}
			st, err := mgr.Status(commandContext(cmd))
			if err != nil {
				return err
			}

			fmt.Fprintf(stdout, "Root:      %s\n", st.Root)
			if st.ActiveErr != nil {
				fmt.Fprintf(stdout, "Active:    unavailable (%v)\n", st.ActiveErr)
			} else {
				fmt.Fprintf(stdout, "Active:    %s\n", st.ActiveID)
			}
			build := st.BuildID
			if build == "" {
				build = "unknown"
			}
			fmt.Fprintf(stdout, "Build:     %s (app %s)\n", build, st.SteamAppID)
			switch {
			case st.ProbeErr != nil:
				fmt.Fprintf(stdout, "Running:   unknown (%v)\n", st.ProbeErr)
			case st.Running:
				fmt.Fprintln(stdout, "Running:   yes")
			default:
				fmt.Fprintln(stdout, "Running:   no")
			}
			if st.ListErr != nil {
				fmt.Fprintf(stdout, "Profiles:  unavailable (%v)\n", st.ListErr)
			} else {
				fmt.Fprintf(stdout, "Profiles:  %d inactive", len(st.Profiles.Profiles))
				if n := len(st.Profiles.Conflicts); n > 0 {
					fmt.Fprintf(stdout, ", %d ambiguous", n)
				}
				fmt.Fprintln(stdout)
			}
			if st.LastSwitch != nil {
				fmt.Fprintf(stdout, "Last:      %s\n", formatRecord(*st.LastSwitch, mgr.Now()))
			}
			fmt.Fprintf(stdout, "Log:       %s\n", st.LogPath)
			if st.StagingLeftover {
				fmt.Fprintf(stdout, "\nWarning: %s exists. A previous switch was interrupted; inspect it and move it back manually.\n",
					mgr.Paths().StagingDir())
			}
			return nil
		},
	}
}

func newListCommand(manager managerFunc, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List switchable profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := manager()
			if err != nil {
				return err
			}
			listing, err := mgr.ListInactiveProfiles()
			if err != nil {
				return err
			}
			if current, err := mgr.CurrentActiveIdentifier(); err == nil {
				fmt.Fprintf(stdout, "* [%s] (active)\n", current)
			} else {
				fmt.Fprintf(stdout, "* (active installation unreadable: %v)\n", err)
			}
			for _, p := range listing.Profiles {
				fmt.Fprintf(stdout, "  [%s]\n", p.ID)
			}
			for _, c := range listing.Conflicts {
				fmt.Fprintf(stdout, "! [%s] (ambiguous: %s)\n", c.ID, strings.Join(c.Folders, ", "))
			}
			if len(listing.Profiles) == 0 && len(listing.Conflicts) == 0 {
				fmt.Fprintf(stdout, "No inactive profiles found in %s.\n", mgr.Paths().Root())
			}
			return nil
		},
	}
}

func newSwitchCommand(manager managerFunc, prompter Prompter, stdout io.Writer) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "switch [id]",
		Short: "Make a parked profile the active installation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := manager()
			if err != nil {
				return err
			}
			interactive := isInteractive()

			target := ""
			if len(args) > 0 {
				target = args[0]
			} else {
				if !interactive {
					return fmt.Errorf("switch: %w; pass the profile id as an argument", ErrNotInteractive)
				}
				listing, err := mgr.ListInactiveProfiles()
				if err != nil {
					return err
				}
				ids := listing.IDs()
				if len(ids) == 0 {
					return fmt.Errorf("switch: no inactive profiles available in %s", mgr.Paths().Root())
				}
				previous := previousProfile(mgr, ids)
				ids = reorderWithDefault(ids, previous)
				_, selected, err := prompter.Select("Select profile to activate", ids, previous)
				if err != nil {
					return err
				}
				target = selected
			}

			if interactive && !yes {
				current, err := mgr.CurrentActiveIdentifier()
				if err != nil {
					return err
				}
				confirm, err := prompter.Confirm(fmt.Sprintf("Switch from %s to %s? (y/N)", current, target), false)
				if err != nil {
					return err
				}
				if !confirm {
					fmt.Fprintln(stdout, "Switch cancelled.")
					return nil
				}
			}

			outcome, err := mgr.SwitchTo(commandContext(cmd), target)
			if err != nil {
				reportSwitchError(cmd.ErrOrStderr(), err)
				return err
			}
			if outcome.NoOp {
				fmt.Fprintf(stdout, "%s is already active.\n", outcome.To)
				return nil
			}
			fmt.Fprintf(stdout, "Successfully switched from %s to %s.\n", outcome.From, outcome.To)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not prompt for confirmation")

	return cmd
}

// previousProfile returns the profile that was active before the last
// successful switch, when it is still available.
func previousProfile(mgr *ips.Manager, ids []string) string {
	records, err := mgr.History(0, 0)
	if err != nil {
		return ""
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Result != switchlog.ResultOK {
			continue
		}
		for _, id := range ids {
			if strings.EqualFold(id, records[i].From) {
				return id
			}
		}
		return ""
	}
	return ""
}

func reportSwitchError(w io.Writer, err error) {
	var serr *domain.SwitchError
	if !errors.As(err, &serr) || len(serr.Rollback) == 0 {
		return
	}
	fmt.Fprintln(w, "Rollback:")
	for _, step := range serr.Rollback {
		fmt.Fprintf(w, "  %s\n", step)
	}
	if len(serr.FailedRollback()) > 0 {
		fmt.Fprintln(w, "Some folders could not be restored. Rename them back by hand before switching again.")
	}
}

func newHistoryCommand(manager managerFunc, stdout io.Writer) *cobra.Command {
	var (
		limit    int
		sinceStr string
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the switch audit log",
		Long: `Show the switch audit log.

With a relative log_path (the default) the log is stored inside the active
installation and moves with it, so only records kept by the installation that
is active now are shown. Records written while no installation was active go
to a file next to the lock and are merged in. Set an absolute log_path to keep
one log for every installation.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := manager()
			if err != nil {
				return err
			}
			var since time.Duration
			if sinceStr != "" {
				since, err = parseHumanDuration(sinceStr)
				if err != nil {
					return err
				}
			}
			if limit < 0 {
				return fmt.Errorf("invalid limit: %d", limit)
			}

			records, err := mgr.History(since, limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprintln(stdout, formatRecord(r, mgr.Now()))
			}
			if !follow {
				if len(records) == 0 {
					fmt.Fprintf(stdout, "No switches recorded in %s.\n", mgr.LogPath())
				}
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)\n", mgr.LogPath())
			return mgr.FollowHistory(commandContext(cmd), func(r switchlog.Record) {
				fmt.Fprintln(stdout, formatRecord(r, mgr.Now()))
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most N records (0 for all)")
	cmd.Flags().StringVar(&sinceStr, "since", "", "Only show records newer than the duration (e.g. 7d, 12h)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records as they are written")

	return cmd
}

// formatRecord renders a record on one line, e.g.
// "2025-03-10T12:00:00Z  A1 -> B2  ok  (2 hours ago)".
func formatRecord(r switchlog.Record, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s -> %s  %s", r.Timestamp, r.From, r.To, r.Result)
	if r.Result == switchlog.ResultError {
		fmt.Fprintf(&b, " at stage %d: %s", r.Stage, r.Error)
	}
	if r.SteamBuildID != "" {
		fmt.Fprintf(&b, "  build %s", r.SteamBuildID)
	}
	if ts, err := r.Time(); err == nil {
		age := now.Sub(ts)
		if age < 0 {
			age = 0
		}
		fmt.Fprintf(&b, "  (%s ago)", units.HumanDuration(age))
	}
	return b.String()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func parseHumanDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return 0, errors.New("duration cannot be empty")
	}
	if strings.HasSuffix(value, "d") {
		days := strings.TrimSuffix(value, "d")
		v, err := parseDays(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration: %w", err)
		}
		return v, nil
	}
	if strings.HasSuffix(value, "h") || strings.HasSuffix(value, "m") || strings.HasSuffix(value, "s") {
		dur, err := time.ParseDuration(value)
		if err != nil {
			return 0, err
		}
		if dur < 0 {
			return 0, fmt.Errorf("duration cannot be negative")
		}
		return dur, nil
	}
	return 0, fmt.Errorf("unsupported duration format: %s", value)
}

func parseDays(value string) (time.Duration, error) {
	d, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid day duration: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid day duration: %d", d)
	}
	return time.Duration(d) * 24 * time.Hour, nil
}

// reorderWithDefault moves the default value to the front of the list.
// If defaultValue is empty or not found, or already first, returns items unchanged.
func reorderWithDefault(items []string, defaultValue string) []string {
	if defaultValue == "" {
		return items
	}

	idx := -1
	for i, item := range items {
		if item == defaultValue {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return items
	}

	reordered := make([]string, 0, len(items))
	reordered = append(reordered, defaultValue)
	reordered = append(reordered, items[:idx]...)
	reordered = append(reordered, items[idx+1:]...)
	return reordered
}
