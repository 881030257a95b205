package main

import (
	"fmt"
	"os"

	"matterlink.ai/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "emcctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
