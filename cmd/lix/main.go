// Command lix is the command-line front end of the lix storage engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lix/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
