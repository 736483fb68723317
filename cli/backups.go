package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/git"
)

func (a *app) backupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List, restore, or prune backup refs",
		Long: `Every removal writes a backup ref under ` + git.BackupRefPrefix + ` that
preserves the removed worktree's commit, branch, and path.`,
	}
	cmd.AddCommand(a.backupsListCommand(), a.backupsRestoreCommand(), a.backupsPruneCommand())
	return cmd
}

func (a *app) backupsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			backups, err := m.Backups(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd, backups, func(w io.Writer) { printBackups(w, backups) })
		},
	}
}

func (a *app) backupsRestoreCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "restore <ref>",
		Short: "Recreate the branch and worktree a backup was taken from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			result, err := m.Restore(cmd.Context(), args[0], path)
			if err != nil {
				return err
			}
			return a.render(cmd, result, func(w io.Writer) {
				label := worktreeLabel(result.Backup.Branch, result.Path)
				if result.Path == "" {
					label = branchStyle.Render(result.Backup.Branch)
				}
				fmt.Fprintf(w, "%s restored %s at %s\n", okStyle.Render("✓"), label, shortCommit(result.Backup.Commit))
				if !result.WorktreeCreated && !result.BranchCreated {
					fmt.Fprintln(w, dimStyle.Render("  already present, nothing changed"))
				}
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Restore to this path instead of the recorded one")
	return cmd
}

func (a *app) backupsPruneCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old backups superseded by a later clean pass",
		Long: `Delete backups older than --older-than. A backup is only deleted once a
clean pass has started after it was written, so the last copy of a commit is
never lost to age alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 {
				return withCode(ExitConfig, fmt.Errorf("--older-than must not be negative"))
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			result, err := m.PruneBackups(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return a.render(cmd, result, func(w io.Writer) {
				for _, b := range result.Deleted {
					fmt.Fprintf(w, "%s deleted %s\n", okStyle.Render("✓"), b.Ref)
				}
				fmt.Fprintf(w, "%d deleted, %d kept\n", len(result.Deleted), len(result.Kept))
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", git.DefaultBackupRetention, "Minimum backup age")
	return cmd
}
