package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(content), 0600))
	return fn
}

func TestLoadConfig_File(t *testing.T) {
	fn := writeConfig(t, `
audio:
  backend: portaudio
  sample_rate: 16000
  channels: 2
control:
  listen: 0.0.0.0:9000
monitor:
  enabled: true
logging:
  level: debug
  outputs: [stdout, /tmp/micrelay.log]
`)

	cfg, err := LoadConfig(fn)
	require.NoError(t, err)

	assert.Equal(t, "portaudio", cfg.Audio.Backend)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 2, cfg.Audio.Channels)
	assert.Equal(t, 20, cfg.Audio.FrameDuration, "default kept")
	assert.Equal(t, "0.0.0.0:9000", cfg.Control.Listen)
	assert.Equal(t, "/control", cfg.Control.Path)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, 32000, cfg.Monitor.Bitrate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout", "/tmp/micrelay.log"}, cfg.Logging.Outputs)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "malgo", cfg.Audio.Backend)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, "127.0.0.1:8765", cfg.Control.Listen)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MICRELAY_AUDIO_BACKEND", "pulse")
	t.Setenv("MICRELAY_CONTROL_LISTEN", "127.0.0.1:1234")
	fn := writeConfig(t, "audio:\n  backend: malgo\n")

	cfg, err := LoadConfig(fn)
	require.NoError(t, err)

	assert.Equal(t, "pulse", cfg.Audio.Backend)
	assert.Equal(t, "127.0.0.1:1234", cfg.Control.Listen)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	fn := writeConfig(t, "audio:\n  channels: 6\n")

	_, err := LoadConfig(fn)

	assert.ErrorIs(t, err, ErrInvalidConfig)
}
