package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/twinsync/internal/metadata"
	"github.com/openmined/twinsync/internal/sync"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last sync and recent runs of the pair",
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
			limit, _ := cmd.Flags().GetInt("runs")

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, bold.Render(cfg.DisplayName()))

			for _, side := range []sync.Side{sync.SideLeft, sync.SideRight} {
				sc := engine.Sidecar(side)
				meta, err := metadata.NewStore(sc.StatePath).Load()
				if err != nil {
					return err
				}

				last := "never"
				if !meta.LastSync.IsZero() {
					last = fmt.Sprintf("%s (%s)", meta.LastSync.Local().Format(time.DateTime), humanize.Time(meta.LastSync))
				}
				row(out, side.String(), sc.Root)
				row(out, "  last sync", last)
				row(out, "  tracked", fmt.Sprintf("%d files, %d deletions", meta.FileCount(), meta.DeletedCount()))
			}

			runs, err := engine.Runs(sync.SideLeft, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return nil
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, bold.Render("Recent runs"))
			for _, r := range runs {
				state := green.Render("ok")
				switch {
				case r.Cancelled:
					state = yellow.Render("cancelled")
				case r.Failed > 0:
					state = red.Render(fmt.Sprintf("%d failed", r.Failed))
				}
				fmt.Fprintf(out, "  %s  %s  %d done, %d skipped, %s  %s\n",
					r.StartedAt.Local().Format(time.DateTime),
					state,
					r.Completed, r.Skipped,
					humanize.Bytes(uint64(r.Bytes)),
					gray.Render(r.ID),
				)
			}
			return nil
		},
	}

	cmd.Flags().Int("runs", 10, "number of recent runs to list")
	return cmd
}
