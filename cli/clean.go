package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/manager"
)

type cleanFlags struct {
	opts manager.CleanOptions
	yes  bool
}

func (a *app) cleanCommand() *cobra.Command {
	flags := &cleanFlags{}
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove every worktree that is safe to remove",
		Long: `Check every linked worktree and remove the ones that are clean and fully
merged, writing a backup ref for each first. Each removal is confirmed
interactively unless --yes is given. With --orphans, local branches without a
worktree that are merged or whose upstream is gone are deleted too.

Examples:
  wtm clean --dry-run
  wtm clean --yes --delete-branches --orphans`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			opts := flags.opts
			if !flags.yes && !opts.DryRun {
				opts.Confirm = promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			result, err := m.Clean(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := a.render(cmd, result, func(w io.Writer) { printClean(w, result) }); err != nil {
				return err
			}
			for _, s := range result.Skipped {
				if s.Reason == manager.ReasonError || s.Reason == manager.ReasonBackupFailed {
					return errPartial
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&flags.opts.Force, "force", "f", false, "Also remove dirty worktrees and ones with unmerged commits")
	f.BoolVarP(&flags.opts.DeleteBranches, "delete-branches", "D", false, "Delete the branch of each removed worktree")
	f.BoolVar(&flags.opts.IncludeOrphans, "orphans", false, "Also delete merged or gone branches that have no worktree")
	f.BoolVarP(&flags.opts.DryRun, "dry-run", "n", false, "Report what would be removed without changing anything")
	f.BoolVar(&flags.opts.AllowShallow, "allow-shallow", false, "Trust merge checks in a shallow clone")
	f.BoolVarP(&flags.yes, "yes", "y", false, "Do not ask before each removal")
	return cmd
}

// promptConfirm asks on out and reads y/N answers from in. EOF declines.
func promptConfirm(in io.Reader, out io.Writer) func(manager.CleanCandidate) bool {
	reader := bufio.NewReader(in)
	return func(c manager.CleanCandidate) bool {
		what := "worktree " + worktreeLabel(c.Branch, c.Path)
		if c.Orphan {
			what = fmt.Sprintf("branch %s (%s)", branchStyle.Render(c.Branch), c.Status)
		}
		fmt.Fprintf(out, "Remove %s? [y/N] ", what)
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			fmt.Fprintln(out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
