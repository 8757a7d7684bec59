package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("json output carries fields", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "log.json")
		log, err := New(Options{Level: "debug", Format: "json", Output: out})
		require.NoError(t, err)

		log.Debug("step", zap.String("scenario", "TC006"), zap.Int("index", 2))
		require.NoError(t, log.Sync())

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line))
		assert.Equal(t, "step", line["message"])
		assert.Equal(t, "debug", line["level"])
		assert.Equal(t, "TC006", line["scenario"])
	})

	t.Run("level filters lower entries", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "log.txt")
		log, err := New(Options{Level: "WARN", Output: out})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

		log.Info("hidden")
		log.Warn("shown")
		require.NoError(t, log.Sync())
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "hidden")
		assert.Contains(t, string(data), "WARN")
	})

	t.Run("rejects unknown level and format", func(t *testing.T) {
		_, err := New(Options{Level: "loud"})
		assert.Error(t, err)
		_, err = New(Options{Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("defaults to info", func(t *testing.T) {
		log, err := New(Options{})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})
}
