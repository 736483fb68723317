package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/manager"
)

func (a *app) createCommand() *cobra.Command {
	var opts manager.CreateOptions
	cmd := &cobra.Command{
		Use:   "create <branch>",
		Short: "Create a worktree for a branch",
		Long: `Create a worktree for <branch>, creating the branch from --base when it
does not exist. Files matching the copy patterns in .wtm.yaml are copied from
the main worktree and dependencies are installed with the detected package
manager (or install.command).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			opts.Branch = args[0]
			result, err := m.Create(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.render(cmd, result, func(w io.Writer) { printCreate(w, result) })
		},
	}
	cmd.Flags().StringVar(&opts.Base, "base", "", "Start point for a new branch (default HEAD)")
	cmd.Flags().StringVar(&opts.Path, "path", "", "Worktree location (default <directory>/<branch>)")
	cmd.Flags().BoolVar(&opts.NoCopy, "no-copy", false, "Do not copy files from the main worktree")
	cmd.Flags().BoolVar(&opts.NoInstall, "no-install", false, "Do not install dependencies")
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	var opts manager.DeleteOptions
	cmd := &cobra.Command{
		Use:     "delete <branch|path>",
		Aliases: []string{"rm"},
		Short:   "Back up and remove one worktree",
		Long: `Remove one worktree after writing a backup ref for its HEAD.

Dirty worktrees and worktrees with commits that exist nowhere else are refused
unless --force is given. The main worktree and locked worktrees are always
refused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			opts.Target = args[0]
			result, err := m.Delete(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.render(cmd, result, func(w io.Writer) { printDelete(w, result) })
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Remove even if dirty or ahead")
	cmd.Flags().BoolVarP(&opts.DeleteBranch, "delete-branch", "D", false, "Also delete the branch")
	return cmd
}

func (a *app) syncCommand() *cobra.Command {
	var opts manager.SyncOptions
	cmd := &cobra.Command{
		Use:   "sync [branch|path...]",
		Short: "Copy config-selected files from the main worktree into others",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			opts.Targets = args
			result, err := m.Sync(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := a.render(cmd, result, func(w io.Writer) { printSync(w, result) }); err != nil {
				return err
			}
			if len(result.Failed()) > 0 {
				return errPartial
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "List what would change without writing")
	return cmd
}
