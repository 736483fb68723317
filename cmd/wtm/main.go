// Command wtm manages git worktrees: create, delete, sync, clean, status,
// backups, and a local event stream.
package main

import (
	"os"

	"github.com/nathanvale/side-quest-git-sub001/cli"
	"github.com/nathanvale/side-quest-git-sub001/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.Version = version
	code := cli.Execute(cli.NewRootCommand())
	logger.Close()
	os.Exit(code)
}
