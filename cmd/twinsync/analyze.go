package main

import (
	"github.com/openmined/twinsync/internal/sync"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Show what a sync would do without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPair(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			engine, err := sync.NewEngine(cfg)
			if err != nil {
				return err
			}

			an, err := engine.Analyze(cmd.Context())
			if err != nil {
				return err
			}

			all, _ := cmd.Flags().GetBool("all")
			printPlan(cmd.OutOrStdout(), an, all)
			return nil
		},
	}

	addSettingsFlags(cmd.Flags())
	cmd.Flags().BoolP("all", "a", false, "also list skipped paths")
	return cmd
}
