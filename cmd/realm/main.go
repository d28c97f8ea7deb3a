// Command realm inspects and modifies realm databases.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/realm/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
