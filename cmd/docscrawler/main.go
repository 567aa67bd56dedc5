// Command docscrawler is the optional local/manual front-end described in
// §10.5: a thin wrapper over internal/cli's cobra root command.
package main

import (
	cmd "github.com/archiveforge/docscrawler/internal/cli"
)

func main() {
	cmd.Execute()
}
