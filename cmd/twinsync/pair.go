package main

import (
	"fmt"

	"github.com/openmined/twinsync/internal/config"
	"github.com/openmined/twinsync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// addSettingsFlags registers the per-run overrides of the pair settings.
func addSettingsFlags(flags *pflag.FlagSet) {
	flags.Bool("verify-hash", false, "confirm changes by content hash")
	flags.Bool("no-backup", false, "do not keep backups of overwritten files")
	flags.Bool("hard-delete", false, "delete files instead of moving them to the trash")
}

// loadPair builds the pair config. Precedence is flag, then TWINSYNC_*
// environment variable, then the pair file, then the defaults.
func loadPair(cmd *cobra.Command) (*config.PairConfig, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg := config.New("", "")
	if utils.FileExists(path) {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if flags.Changed("config") {
		return nil, fmt.Errorf("config %s not found", path)
	}

	v := viper.New()
	v.SetEnvPrefix("TWINSYNC")
	v.AutomaticEnv()

	v.SetDefault("left", cfg.Left)
	v.SetDefault("right", cfg.Right)
	v.SetDefault("verify_hash", cfg.Settings.VerifyHash)
	v.SetDefault("no_backup", !cfg.Settings.BackupEnabled)
	v.SetDefault("hard_delete", !cfg.Settings.SoftDelete)

	for key, flag := range map[string]string{
		"left":        "left",
		"right":       "right",
		"verify_hash": "verify-hash",
		"no_backup":   "no-backup",
		"hard_delete": "hard-delete",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg.Left = v.GetString("left")
	cfg.Right = v.GetString("right")
	cfg.Settings.VerifyHash = v.GetBool("verify_hash")
	cfg.Settings.BackupEnabled = !v.GetBool("no_backup")
	cfg.Settings.SoftDelete = !v.GetBool("hard_delete")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
