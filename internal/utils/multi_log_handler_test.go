package utils

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiLogHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	debugHandler := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	warnHandler := slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewMultiLogHandler(debugHandler, nil, warnHandler))
	logger.Info("copied", "path", "a.txt")
	logger.Warn("skipped", "path", "b.txt")

	assert.Contains(t, debugBuf.String(), "copied")
	assert.Contains(t, debugBuf.String(), "skipped")
	assert.NotContains(t, warnBuf.String(), "copied")
	assert.Contains(t, warnBuf.String(), "skipped")
}

func TestMultiLogHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiLogHandler(slog.NewTextHandler(&buf, nil))

	slog.New(h).With("run", "r1").Info("done")

	assert.Contains(t, buf.String(), "run=r1")
}
