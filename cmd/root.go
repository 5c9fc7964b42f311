package cmd

import (
	"fmt"
	"os"

	"github.com/nimbusdb/corekit/cmd/coreprobe"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "corekit",
	Short: "dispatch and topology engine for a distributed document-database cluster client",
	Long: fmt.Sprintf(`corekit (v%s)

A dispatch and topology engine: tracks a cluster's live node/service
topology from a streaming configuration source and routes requests to
the right node for their service type.`, Version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("corekit v%s\n", Version)
	},
}

func init() {
	RootCmd.AddCommand(coreprobe.ProbeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
