package xlog_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/pincer/pkg/xlog"
)

func newBufferConfig(buf *bytes.Buffer, format string) xlog.Config {
	c := xlog.NewConfig()
	c.StdWriter = buf
	c.StdFormat = format
	c.AddSource = false
	c.AttrReplacer = xlog.ChainReplacer(
		xlog.SuppressTimeAttrReplacer(),
		xlog.NormalizeSourceAttrReplacer(),
	)
	return c
}

func TestLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := xlog.New(newBufferConfig(buf, "text"))

	logger.Debug("debug message")
	logger.Infof("info message: %s", "hello")
	logger.Warn("warn message")
	logger.Error("error message", "error", "boom")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.Contains(t, out, "info message: hello")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, "error=boom")
}

func TestLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := xlog.New(newBufferConfig(buf, "text"))

	logger.Debug("before")
	logger.SetLevel(slog.LevelDebug)
	logger.Debug("after")

	out := buf.String()
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "after")
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := xlog.New(newBufferConfig(buf, "json"))

	logger.With("image", "test/app").Info("pushed")

	out := buf.String()
	assert.Contains(t, out, `"image":"test/app"`)
	assert.Contains(t, out, `"msg":"pushed"`)
}

func TestLogger_FromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := xlog.New(newBufferConfig(buf, "text"))
	xlog.SetDefault(logger)

	ctx := xlog.WithContext(t.Context(), "request_id", "abc123")
	xlog.C(ctx).Info("handled")

	out := buf.String()
	assert.Contains(t, out, "request_id=abc123")
	assert.Contains(t, out, "handled")
}

func TestParseLevel(t *testing.T) {
	testcases := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", "debug", slog.LevelDebug, false},
		{"info", "info", slog.LevelInfo, false},
		{"empty", "", slog.LevelInfo, false},
		{"warn", "warn", slog.LevelWarn, false},
		{"warning", "Warning", slog.LevelWarn, false},
		{"error", "ERROR", slog.LevelError, false},
		{"unknown", "verbose", slog.LevelInfo, true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := xlog.ParseLevel(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMultiHandler(t *testing.T) {
	textBuf := &bytes.Buffer{}
	jsonBuf := &bytes.Buffer{}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	h := xlog.MultiHandler(
		xlog.NewLeveledHandlerCreator(xlog.TextHandlerCreator)(textBuf, opts),
		xlog.NewLeveledHandlerCreator(xlog.JSONHandlerCreator)(jsonBuf, opts),
	)

	logger := slog.New(h)
	logger.Info("fan out")

	assert.Contains(t, textBuf.String(), "fan out")
	assert.Contains(t, jsonBuf.String(), `"msg":"fan out"`)

	xlog.SetHandlerLevel(h, slog.LevelError)
	textBuf.Reset()
	logger.Info("filtered")
	assert.True(t, strings.TrimSpace(textBuf.String()) == "")
}
