package main

import (
	"fmt"

	"github.com/openmined/twinsync/internal/exclude"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Save the pair config and add exclusion templates to both folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPair(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			path, _ := cmd.Flags().GetString("config")
			if err := cfg.Save(path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, green.Render("Saved ")+path)

			for _, root := range []string{cfg.Left, cfg.Right} {
				created, err := exclude.WriteTemplate(root)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintln(out, green.Render("Created ")+root+"/"+exclude.FileName)
				} else {
					fmt.Fprintln(out, gray.Render("Kept existing ")+root+"/"+exclude.FileName)
				}
			}
			return nil
		},
	}
}
