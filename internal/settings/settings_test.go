package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"), false)

	require.NoError(t, err)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "text", s.LogFormat)
	assert.False(t, s.NoColor)
	assert.Empty(t, s.Registry)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	file := writeSettings(t, `
registry: https://file.example.com/
searchpath:
  - /opt/plugins
log-level: warn
log-format: json
`)

	t.Run("file", func(t *testing.T) {
		s, err := Load(New(), file, true)
		require.NoError(t, err)
		assert.Equal(t, "https://file.example.com/", s.Registry)
		assert.Equal(t, []string{"/opt/plugins"}, s.SearchPaths)
		assert.Equal(t, "warn", s.LogLevel)
		assert.Equal(t, "json", s.LogFormat)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("PLUGMAN_LOG_LEVEL", "debug")
		t.Setenv("PLUGMAN_NO_COLOR", "true")
		s, err := Load(New(), file, true)
		require.NoError(t, err)
		assert.Equal(t, "debug", s.LogLevel)
		assert.True(t, s.NoColor)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("PLUGMAN_REGISTRY", "https://env.example.com/")
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String(KeyRegistry, "", "")
		flags.String(KeyLogFormat, "text", "")
		require.NoError(t, flags.Parse([]string{"--registry", "https://flag.example.com/"}))

		v := New()
		require.NoError(t, BindFlags(v, flags))
		s, err := Load(v, file, true)
		require.NoError(t, err)
		assert.Equal(t, "https://flag.example.com/", s.Registry)
		assert.Equal(t, "json", s.LogFormat, "unchanged flags do not shadow the file")
	})
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	file := writeSettings(t, "log-format: xml\n")

	_, err := Load(New(), file, true)

	assert.ErrorIs(t, err, ErrInvalidLogFormat)
}

func TestDefaultFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "plugman", "config.yaml"), DefaultFile())
}
