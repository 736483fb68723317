package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/git"
	"github.com/nathanvale/side-quest-git-sub001/manager"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	branchStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
)

// render writes v as indented JSON with --json, otherwise calls human.
func (a *app) render(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if a.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

// renderLine writes v as one compact JSON line, for streams.
func renderLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func worktreeLabel(branch, path string) string {
	if branch == "" {
		return dimStyle.Render("(detached)") + " " + path
	}
	return branchStyle.Render(branch) + " " + dimStyle.Render(path)
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}

func printCreate(w io.Writer, r *manager.CreateResult) {
	verb := "checked out"
	if r.BranchCreated {
		verb = "created"
	}
	fmt.Fprintf(w, "%s %s (%s %s)\n", okStyle.Render("✓"), worktreeLabel(r.Branch, r.Path), verb, shortCommit(r.Head))
	for _, f := range r.CopiedFiles {
		fmt.Fprintf(w, "  copied %s\n", f)
	}
	if in := r.Install; in != nil {
		switch {
		case in.Skipped:
			fmt.Fprintf(w, "  %s\n", dimStyle.Render("install skipped ("+in.SkipReason+")"))
		case in.Error != "":
			fmt.Fprintf(w, "  %s %s: %s\n", warnStyle.Render("install failed"), in.Command, in.Error)
		default:
			fmt.Fprintf(w, "  installed with %s\n", in.Command)
		}
	}
}

func printDelete(w io.Writer, r *manager.DeleteResult) {
	fmt.Fprintf(w, "%s removed %s\n", okStyle.Render("✓"), worktreeLabel(r.Branch, r.Path))
	if r.Backup != nil {
		fmt.Fprintf(w, "  backup %s\n", r.Backup.Ref)
	}
	if r.BranchDeleted {
		fmt.Fprintf(w, "  deleted branch %s\n", r.Branch)
	}
	if len(r.Forced) > 0 {
		fmt.Fprintf(w, "  %s %v\n", warnStyle.Render("forced past"), r.Forced)
	}
}

func printSync(w io.Writer, r *manager.SyncResult) {
	prefix := ""
	if r.DryRun {
		prefix = dimStyle.Render("[dry run] ")
	}
	fmt.Fprintf(w, "%s%d file(s) selected from %s\n", prefix, len(r.Files), r.Source)
	for _, wt := range r.Worktrees {
		if !wt.OK {
			fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render("✗"), worktreeLabel(wt.Branch, wt.Path), wt.Error)
			continue
		}
		fmt.Fprintf(w, "  %s %s %s\n", okStyle.Render("✓"), worktreeLabel(wt.Branch, wt.Path),
			dimStyle.Render(fmt.Sprintf("(%d updated)", len(wt.Files))))
	}
}

func printClean(w io.Writer, r *manager.CleanResult) {
	verb := "removed"
	if r.DryRun {
		verb = "would remove"
		fmt.Fprintln(w, dimStyle.Render("[dry run]"))
	}
	for _, c := range r.Cleaned {
		kind := ""
		if c.Orphan {
			kind = dimStyle.Render(" (branch only)")
		}
		fmt.Fprintf(w, "%s %s %s%s\n", okStyle.Render("✓"), verb, worktreeLabel(c.Branch, c.Path), kind)
		if c.Backup != nil {
			fmt.Fprintf(w, "  backup %s\n", c.Backup.Ref)
		}
		if c.BranchError != "" {
			fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("branch kept:"), c.BranchError)
		}
	}
	for _, s := range r.Skipped {
		line := fmt.Sprintf("%s skipped %s %s", warnStyle.Render("○"), worktreeLabel(s.Branch, s.Path), warnStyle.Render(string(s.Reason)))
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(w, line)
	}
	for _, p := range r.Pruned {
		fmt.Fprintf(w, "%s pruned stale registration %s\n", okStyle.Render("✓"), p)
	}
	if len(r.Cleaned)+len(r.Skipped)+len(r.Pruned) == 0 {
		fmt.Fprintln(w, "nothing to clean")
	}
}

func printStatuses(w io.Writer, statuses []manager.WorktreeStatus) {
	for _, st := range statuses {
		var flags []string
		if st.IsMain {
			flags = append(flags, "main")
		}
		if st.Locked {
			flags = append(flags, "locked")
		}
		if st.Prunable {
			flags = append(flags, "prunable")
		}
		if st.UpstreamGone {
			flags = append(flags, "gone")
		}
		switch {
		case st.Diverged:
			flags = append(flags, "diverged")
		case st.FastForward:
			flags = append(flags, "ff")
		}

		state := okStyle.Render("clean")
		if st.Dirty {
			state = warnStyle.Render(fmt.Sprintf("+%d ~%d ?%d", st.Staged, st.Modified, st.Untracked))
			if st.Conflicted > 0 {
				state += errorStyle.Render(fmt.Sprintf(" !%d", st.Conflicted))
			}
		}

		line := fmt.Sprintf("%s  %s  ↑%d ↓%d", worktreeLabel(st.Branch, st.Path), state, st.Ahead, st.Behind)
		if len(flags) > 0 {
			line += "  " + dimStyle.Render("["+strings.Join(flags, ",")+"]")
		}
		if st.Error != "" {
			line += "  " + errorStyle.Render(st.Error)
		}
		fmt.Fprintln(w, line)
	}
}

func printBackups(w io.Writer, backups []git.BackupRef) {
	if len(backups) == 0 {
		fmt.Fprintln(w, "no backups")
		return
	}
	for _, b := range backups {
		fmt.Fprintf(w, "%s  %s  %s  %s\n", b.CreatedAt.Local().Format("2006-01-02 15:04"),
			shortCommit(b.Commit), worktreeLabel(b.Branch, b.Worktree), dimStyle.Render(b.Ref))
	}
}
