package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refinery-etl/refinery/internal/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a configuration file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ParseConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pipeline(s) valid\n", args[0], len(cfg.Pipelines))
			return nil
		},
	}

	return cmd
}
