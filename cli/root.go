// Package cli implements the wtm command tree. Commands are thin: they parse
// flags, call one manager or events operation, and render its result as text
// or, with --json, as JSON on stdout.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/events"
	pexec "github.com/nathanvale/side-quest-git-sub001/exec"
	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/logger"
	"github.com/nathanvale/side-quest-git-sub001/manager"
)

// Version is injected at build time via ldflags.
var Version = "dev"

// app holds the global flags shared by every subcommand.
type app struct {
	jsonOutput  bool
	debug       bool
	concurrency int
	repo        string
	noEvents    bool

	// executor runs git and install commands; tests substitute a mock.
	executor pexec.CommandExecutor
}

// NewRootCommand builds the wtm command with every subcommand registered.
func NewRootCommand() *cobra.Command {
	a := &app{executor: pexec.NewRealExecutor()}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wtm",
		Short: "Safe git worktree lifecycle management",
		Long: `wtm creates, syncs, and cleans up git worktrees.

Nothing is removed without a backup ref under refs/wtm-backup/, and dirty,
unpushed, locked, or main worktrees are never removed unless a check that
can be overridden is overridden with --force.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger.SetDebug(a.debug || os.Getenv("WTM_DEBUG") == "1")
			if cmd.Flags().Changed("concurrency") && a.concurrency <= 0 {
				return withCode(ExitConfig, fmt.Errorf("--concurrency must be positive, got %d", a.concurrency))
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")
	flags.BoolVar(&a.debug, "debug", false, "Log at debug level")
	flags.IntVarP(&a.concurrency, "concurrency", "j", 0, "Parallel git operations (default $WTM_CONCURRENCY or 4)")
	flags.StringVarP(&a.repo, "repo", "C", "", "Run as if started in this directory")
	flags.BoolVar(&a.noEvents, "no-events", false, "Do not publish lifecycle events")

	root.AddCommand(
		a.createCommand(),
		a.deleteCommand(),
		a.syncCommand(),
		a.cleanCommand(),
		a.statusCommand(),
		a.backupsCommand(),
		a.eventsCommand(),
		a.doctorCommand(),
	)
	return root
}

// Execute runs root with a context cancelled on SIGINT or SIGTERM, prints
// any error, and returns the process exit code.
func Execute(root *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return int(ExitOK)
	}
	if !errors.Is(err, errPartial) {
		printError(root.ErrOrStderr(), jsonFlag(root), err)
	}
	return int(codeFor(err))
}

func jsonFlag(root *cobra.Command) bool {
	v, _ := root.PersistentFlags().GetBool("json")
	return v
}

func printError(w io.Writer, asJSON bool, err error) {
	if asJSON {
		data, _ := json.Marshal(map[string]any{
			"error": map[string]any{"message": err.Error(), "code": codeFor(err)},
		})
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintln(w, errorStyle.Render("Error:"), err)
}

// repoRoot resolves the main worktree of the repository containing --repo
// (or the working directory).
func (a *app) repoRoot(ctx context.Context) (string, *git.GitService, error) {
	if err := ValidateRequired(DefaultPrerequisites()); err != nil {
		return "", nil, err
	}
	dir := a.repo
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", nil, err
		}
		dir = wd
	}
	svc := git.NewGitServiceWithExecutor(a.executor)
	main, err := svc.MainWorktree(ctx, dir)
	if err != nil {
		return "", nil, withCode(ExitNotFound, fmt.Errorf("%s is not inside a git repository: %w", dir, err))
	}
	return main.Path, svc, nil
}

// manager opens a Manager for the current repository with an event emitter
// attached unless --no-events.
func (a *app) manager(ctx context.Context) (*manager.Manager, error) {
	root, svc, err := a.repoRoot(ctx)
	if err != nil {
		return nil, err
	}
	opts := manager.Options{Concurrency: a.concurrency}
	if !a.noEvents {
		if store, err := events.DefaultStore(); err == nil {
			opts.Emitter = events.NewEmitter(store, root, events.DefaultSource)
		} else {
			logger.WithComponent("cli").Debug("events disabled", "error", err)
		}
	}
	return manager.New(svc, root, opts)
}

func (a *app) doctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that git and package managers are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := CheckAll(cmd.Context(), a.executor, DefaultPrerequisites())
			err := a.render(cmd, results, func(w io.Writer) {
				fmt.Fprint(w, FormatCheckResults(results))
			})
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Prerequisite.Required && !r.Found {
					return withCode(ExitFailure, fmt.Errorf("%s not found in PATH", r.Prerequisite.Name))
				}
			}
			return nil
		},
	}
}
