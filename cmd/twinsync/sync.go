package main

import (
	"fmt"
	"log/slog"

	"github.com/openmined/twinsync/internal/sync"
	"github.com/spf13/cobra"
)

func parseSide(s string) (sync.Side, error) {
	switch s {
	case "left", "l":
		return sync.SideLeft, nil
	case "right", "r":
		return sync.SideRight, nil
	default:
		return 0, fmt.Errorf("invalid side %q, expected left or right", s)
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the left and right folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			resolve, _ := cmd.Flags().GetString("resolve")
			quiet, _ := cmd.Flags().GetBool("quiet")

			var keep sync.Side
			if resolve != "" {
				side, err := parseSide(resolve)
				if err != nil {
					return err
				}
				keep = side
			}

			cfg, err := loadPair(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			engine, err := sync.NewEngine(cfg)
			if err != nil {
				return err
			}
			if err := engine.Lock(); err != nil {
				return err
			}
			defer func() {
				if err := engine.Unlock(); err != nil {
					slog.Warn("release lock", "error", err)
				}
			}()

			an, err := engine.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printPlan(out, an, false)
			if dryRun {
				return nil
			}

			actions := an.Diff.Actions
			if resolve != "" {
				actions = sync.ResolveConflicts(actions, keep)
			}

			var progress sync.ProgressFunc
			if !quiet {
				progress = progressPrinter(cmd.ErrOrStderr())
			}

			report, err := engine.Execute(cmd.Context(), an, actions, progress)
			if report != nil {
				printReport(out, report)
			}
			if err != nil {
				return err
			}
			if n := len(report.Result.Failed); n > 0 {
				return fmt.Errorf("%d actions failed", n)
			}
			return nil
		},
	}

	addSettingsFlags(cmd.Flags())
	cmd.Flags().BoolP("dry-run", "n", false, "analyze only")
	cmd.Flags().String("resolve", "", "settle conflicts by keeping this side (left or right)")
	cmd.Flags().BoolP("quiet", "q", false, "no progress output")
	return cmd
}
