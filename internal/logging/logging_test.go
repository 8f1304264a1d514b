package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", "json", &buf)
	l.Debug("hidden")
	l.Info("round complete", "round", 2, "moves", 17)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "round complete", rec["msg"])
	assert.Equal(t, float64(17), rec["moves"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New("debug", "text", &buf).Debug("plan committed", "moves", 3)
	assert.Contains(t, buf.String(), "moves=3")
}
