package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.False(t, s.VerifyHash)
	assert.True(t, s.BackupEnabled)
	assert.True(t, s.SoftDelete)
	assert.Equal(t, 5, s.BackupVersions)
	assert.Equal(t, 2*time.Second, s.Tolerance())
	assert.Equal(t, 90*24*time.Hour, s.Retention())
	assert.Equal(t, 200*time.Millisecond, s.ProgressInterval())
}

func TestLoad_KeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.yaml")
	content := `
left: /data/left
right: /data/right
settings:
  verify_hash: true
  backup_versions: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/left", cfg.Left)
	assert.Equal(t, "/data/right", cfg.Right)
	assert.Equal(t, path, cfg.Path)
	assert.True(t, cfg.Settings.VerifyHash)
	assert.Equal(t, 3, cfg.Settings.BackupVersions)
	assert.True(t, cfg.Settings.SoftDelete)
	assert.Equal(t, DefaultDeletedRetentionDays, cfg.Settings.DeletedRetentionDays)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("left: [unterminated"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pair.yaml")

	cfg := New("/a", "/b")
	cfg.Name = "photos"
	cfg.Settings.SoftDelete = false
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "photos", loaded.Name)
	assert.False(t, loaded.Settings.SoftDelete)
	assert.Equal(t, cfg.Settings.BackupVersions, loaded.Settings.BackupVersions)
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	left := filepath.Join(root, "left")
	right := filepath.Join(root, "right")

	tests := []struct {
		name    string
		mutate  func(c *PairConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *PairConfig) {}},
		{name: "missing right", mutate: func(c *PairConfig) { c.Right = "" }, wantErr: true},
		{name: "same dir", mutate: func(c *PairConfig) { c.Right = c.Left }, wantErr: true},
		{name: "nested", mutate: func(c *PairConfig) { c.Right = filepath.Join(c.Left, "inner") }, wantErr: true},
		{name: "zero backups", mutate: func(c *PairConfig) { c.Settings.BackupVersions = 0 }, wantErr: true},
		{name: "zero retention", mutate: func(c *PairConfig) { c.Settings.DeletedRetentionDays = 0 }, wantErr: true},
		{name: "negative tolerance", mutate: func(c *PairConfig) { c.Settings.ToleranceSeconds = -1 }, wantErr: true},
		{name: "zero tolerance", mutate: func(c *PairConfig) { c.Settings.ToleranceSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(left, right)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(cfg.Left))
		})
	}
}

func TestDisplayName(t *testing.T) {
	cfg := New("/x/docs", "/y/backup")
	assert.Equal(t, "docs <-> backup", cfg.DisplayName())

	cfg.Name = "work"
	assert.Equal(t, "work", cfg.DisplayName())
}
