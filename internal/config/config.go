package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/twinsync/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".twinsync")
	DefaultLogFile    = filepath.Join(DefaultConfigDir, "logs", "twinsync.log")
	DefaultConfigFile = filepath.Join(DefaultConfigDir, "pair.yaml")
)

const (
	DefaultToleranceSeconds     = 2
	DefaultBackupVersions       = 5
	DefaultDeletedRetentionDays = 90
	DefaultProgressIntervalMs   = 200
	DefaultProgressEvery        = 50
)

var ErrInvalidConfig = errors.New("invalid pair config")

// Settings are the per-pair knobs threaded into the differ and the executor.
type Settings struct {
	VerifyHash           bool `yaml:"verify_hash"`
	BackupEnabled        bool `yaml:"backup_enabled"`
	BackupVersions       int  `yaml:"backup_versions"`
	SoftDelete           bool `yaml:"soft_delete"`
	DeletedRetentionDays int  `yaml:"deleted_retention_days"`
	ToleranceSeconds     int  `yaml:"tolerance_seconds"`
	CheckDiskSpace       bool `yaml:"check_disk_space"`
	ProgressIntervalMs   int  `yaml:"progress_interval_ms"`
	ProgressEvery        int  `yaml:"progress_every"`
}

func DefaultSettings() Settings {
	return Settings{
		VerifyHash:           false,
		BackupEnabled:        true,
		BackupVersions:       DefaultBackupVersions,
		SoftDelete:           true,
		DeletedRetentionDays: DefaultDeletedRetentionDays,
		ToleranceSeconds:     DefaultToleranceSeconds,
		CheckDiskSpace:       true,
		ProgressIntervalMs:   DefaultProgressIntervalMs,
		ProgressEvery:        DefaultProgressEvery,
	}
}

func (s Settings) Tolerance() time.Duration {
	return time.Duration(s.ToleranceSeconds) * time.Second
}

func (s Settings) Retention() time.Duration {
	return time.Duration(s.DeletedRetentionDays) * 24 * time.Hour
}

func (s Settings) ProgressInterval() time.Duration {
	return time.Duration(s.ProgressIntervalMs) * time.Millisecond
}

// PairConfig describes one left/right folder pair.
type PairConfig struct {
	Name     string   `yaml:"name,omitempty"`
	Left     string   `yaml:"left"`
	Right    string   `yaml:"right"`
	Settings Settings `yaml:"settings"`
	Path     string   `yaml:"-"`
}

func New(left, right string) *PairConfig {
	return &PairConfig{
		Left:     left,
		Right:    right,
		Settings: DefaultSettings(),
	}
}

// Load reads a pair file. Keys absent from the file keep their defaults.
func Load(path string) (*PairConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := New("", "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path

	return cfg, nil
}

func (c *PairConfig) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate resolves both roots to absolute paths and checks the settings.
func (c *PairConfig) Validate() error {
	if c.Left == "" || c.Right == "" {
		return fmt.Errorf("%w: both left and right must be set", ErrInvalidConfig)
	}

	left, err := utils.ResolvePath(c.Left)
	if err != nil {
		return fmt.Errorf("%w: left: %v", ErrInvalidConfig, err)
	}
	right, err := utils.ResolvePath(c.Right)
	if err != nil {
		return fmt.Errorf("%w: right: %v", ErrInvalidConfig, err)
	}

	switch {
	case left == right:
		return fmt.Errorf("%w: left and right are the same directory %q", ErrInvalidConfig, left)
	case utils.IsSubPath(left, right) || utils.IsSubPath(right, left):
		return fmt.Errorf("%w: %q and %q are nested", ErrInvalidConfig, left, right)
	}

	s := c.Settings
	switch {
	case s.BackupVersions < 1:
		return fmt.Errorf("%w: backup_versions must be at least 1", ErrInvalidConfig)
	case s.DeletedRetentionDays < 1:
		return fmt.Errorf("%w: deleted_retention_days must be at least 1", ErrInvalidConfig)
	case s.ToleranceSeconds < 0:
		return fmt.Errorf("%w: tolerance_seconds cannot be negative", ErrInvalidConfig)
	case s.ProgressIntervalMs < 0 || s.ProgressEvery < 0:
		return fmt.Errorf("%w: progress cadence cannot be negative", ErrInvalidConfig)
	}

	c.Left, c.Right = left, right
	return nil
}

// DisplayName is the configured name or "left <-> right".
func (c *PairConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s <-> %s", filepath.Base(c.Left), filepath.Base(c.Right))
}
