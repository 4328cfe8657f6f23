package main

import (
	"fmt"

	"github.com/spf13/cobra"

	// Block types available to services run by this binary.
	_ "github.com/fluxorio/blockflow/pkg/blocks/example"
	_ "github.com/fluxorio/blockflow/pkg/blocks/natspub"
	_ "github.com/fluxorio/blockflow/pkg/blocks/wsbroadcast"
)

// NewRootCommand builds the blockflow command tree.
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blockflow",
		Short: "Run services built from signal-processing blocks",
		Long: `blockflow hosts a service of blocks wired together by links. Signals
injected into a block are processed and forwarded along its links; the
management API reports block state and accepts new signals.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(
		newRunCommand(version),
		newBlocksCommand(),
		newScaffoldCommand(),
		newVersionCommand(version, commit, date),
	)
	return rootCmd
}

func newVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blockflow %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
