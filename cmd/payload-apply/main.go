// Command payload-apply drives pkg/applier against a payload file and a set
// of block device targets from the command line, standing in for the
// on-device orchestrator described in the update engine's payload
// generator/downloader contract.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCommand is the top-level command tree, composed of one cobra.Command
// per verb rather than a flat flag set.
var rootCommand = &cobra.Command{
	Use:          "payload-apply",
	Short:        "Apply an on-device delta update payload to block devices",
	SilenceUsage: true,
}

func init() {
	rootCommand.AddCommand(applyCommand, statusCommand, resetCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
