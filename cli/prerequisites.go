package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	pexec "github.com/nathanvale/side-quest-git-sub001/exec"
	"github.com/nathanvale/side-quest-git-sub001/pkgmgr"
)

// Prerequisite represents a CLI tool wtm shells out to
type Prerequisite struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	InstallURL  string `json:"installUrl,omitempty"`
}

// DefaultPrerequisites returns git plus the package managers used to install
// dependencies in new worktrees
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "git",
			Required:    true,
			Description: "Git version control",
			InstallURL:  "https://git-scm.com/downloads",
		},
		{
			Name:        string(pkgmgr.Bun),
			Description: "Bun (optional, for installs in bun projects)",
			InstallURL:  "https://bun.sh",
		},
		{
			Name:        string(pkgmgr.Pnpm),
			Description: "pnpm (optional, for installs in pnpm projects)",
			InstallURL:  "https://pnpm.io/installation",
		},
		{
			Name:        string(pkgmgr.Yarn),
			Description: "Yarn (optional, for installs in yarn projects)",
			InstallURL:  "https://yarnpkg.com/getting-started/install",
		},
		{
			Name:        string(pkgmgr.Npm),
			Description: "npm (optional, for installs in npm projects)",
			InstallURL:  "https://nodejs.org",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite `json:"prerequisite"`
	Found        bool         `json:"found"`
	Path         string       `json:"path,omitempty"`
	Version      string       `json:"version,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Check verifies that a CLI tool is available in PATH
func Check(ctx context.Context, executor pexec.CommandExecutor, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Sprintf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(ctx, executor, prereq.Name)
	return result
}

// CheckAll verifies all prerequisites and returns results
func CheckAll(ctx context.Context, executor pexec.CommandExecutor, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, executor, prereq)
	}
	return results
}

// ValidateRequired returns an error naming every required tool that is
// missing, or nil.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if _, err := exec.LookPath(prereq.Name); err != nil {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// getVersion returns the first line of `<name> --version`, or "".
func getVersion(ctx context.Context, executor pexec.CommandExecutor, name string) string {
	output, err := executor.Output(ctx, "", name, "--version")
	if err != nil {
		return ""
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString(headerStyle.Render("Prerequisites:") + "\n")
	for _, r := range results {
		status := okStyle.Render("✓")
		if !r.Found {
			if r.Prerequisite.Required {
				status = errorStyle.Render("✗")
			} else {
				status = dimStyle.Render("○")
			}
		}

		sb.WriteString(fmt.Sprintf("  %s %s", status, r.Prerequisite.Name))
		if r.Found && r.Version != "" {
			sb.WriteString(dimStyle.Render(fmt.Sprintf(" (%s)", r.Version)))
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
