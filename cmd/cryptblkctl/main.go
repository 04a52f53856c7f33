// Command cryptblkctl is the remote management client for cryptblk servers.
package main

import (
	"fmt"
	"os"

	"github.com/cryptblk/cryptblk/cmd/cryptblkctl/commands"
)

// Version information. These variables are populated at build time using ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
