package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty path",
			input:     "",
			wantError: true,
		},
		{
			name:      "relative path",
			input:     "./test",
			wantError: false,
		},
		{
			name:      "absolute path",
			input:     "/tmp/test",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
		})
	}
}

func TestNormalizeRelPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a/b/c.txt", "a/b/c.txt"},
		{"./a/b", "a/b"},
		{"/a/b/", "a/b"},
		{"a//b/../c", "a/c"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRelPath(tt.input))
		})
	}
}

func TestPathKeyIgnoresCase(t *testing.T) {
	assert.Equal(t, PathKey("Docs/Report.TXT"), PathKey("docs/report.txt"))
	assert.NotEqual(t, PathKey("docs/a.txt"), PathKey("docs/b.txt"))
}

func TestPathDepth(t *testing.T) {
	assert.Equal(t, 0, PathDepth(""))
	assert.Equal(t, 1, PathDepth("a"))
	assert.Equal(t, 3, PathDepth("a/b/c"))
}

func TestIsSubPath(t *testing.T) {
	root := t.TempDir()

	assert.True(t, IsSubPath(root, root))
	assert.True(t, IsSubPath(root, filepath.Join(root, "a", "b")))
	assert.False(t, IsSubPath(root, filepath.Dir(root)))
	assert.False(t, IsSubPath(filepath.Join(root, "a"), filepath.Join(root, "ab")))
}

func TestFileHash(t *testing.T) {
	p := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	sum, err := FileHash(p)
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	fromReader, err := ReaderHash(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, sum, fromReader)

	_, err = FileHash(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWindowsPathHandling(t *testing.T) {
	if runtime.GOOS != "windows" {
		t.Skip("Skipping Windows-specific tests on non-Windows platform")
	}

	assert.Equal(t, "a/b/c.txt", NormalizeRelPath(`a\b\c.txt`))
}
