package main

import (
	"encoding/json"
	"fmt"

	"github.com/fluxorio/blockflow/pkg/discovery"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newBlocksCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "List the block types this binary can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := discovery.Default.Describe()
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(types)
			case "yaml":
				enc := yaml.NewEncoder(out)
				defer enc.Close()
				return enc.Encode(types)
			}
			return fmt.Errorf("unknown format %q (want json or yaml)", format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	return cmd
}
