package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/manager"
)

func (a *app) statusCommand() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every worktree's changes and divergence",
		Long: `Show every worktree with its staged (+), modified (~), untracked (?), and
conflicted (!) counts and how far it is ahead of (↑) or behind (↓) its
upstream, or the default branch when it has none.

With --watch the status is refreshed every --interval until interrupted; with
--json each refresh is printed as one JSON line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			if !watch {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				return a.render(cmd, statuses, func(w io.Writer) { printStatuses(w, statuses) })
			}

			w := cmd.OutOrStdout()
			return m.Watch(cmd.Context(), interval, func(tick manager.StatusTick) {
				if a.jsonOutput {
					line := struct {
						manager.StatusTick
						Error string `json:"error,omitempty"`
					}{StatusTick: tick}
					if tick.Err != nil {
						line.Error = tick.Err.Error()
					}
					_ = renderLine(w, line)
					return
				}
				header := fmt.Sprintf("#%d %s", tick.Seq, tick.At.Format(time.TimeOnly))
				if tick.Skipped > 0 {
					header += fmt.Sprintf(" (%d skipped)", tick.Skipped)
				}
				fmt.Fprintln(w, dimStyle.Render(header))
				if tick.Err != nil {
					fmt.Fprintln(w, errorStyle.Render("status failed:"), tick.Err)
					return
				}
				printStatuses(w, tick.Statuses)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval for --watch")
	return cmd
}
