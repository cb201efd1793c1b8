package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{AppEnv: "production", LogFormat: "json"})

	logger.Debug("hidden")
	logger.Info("shown", slog.String("k", "v"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	dev := newLogger(&buf, &Config{AppEnv: "development"})
	assert.True(t, dev.Enabled(context.Background(), slog.LevelDebug))
	dev.Debug("denied")
	assert.Contains(t, buf.String(), "msg=denied")
}
