package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestHandler_FormatsLine(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, slog.LevelInfo)).With("component", "scheduler")
	l.Info("polling", "offset", "-0.50s")

	out := buf.String()
	assert.Contains(t, out, "| INFO  | polling")
	assert.Contains(t, out, "component=scheduler")
	assert.Contains(t, out, "offset=-0.50s")
}

func TestHandler_LevelFilter(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	buf.Reset()
	New(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestHandler_Group(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, slog.LevelInfo)).WithGroup("http").Info("x", "status", 200)
	assert.Contains(t, buf.String(), "http.status=200")
}
