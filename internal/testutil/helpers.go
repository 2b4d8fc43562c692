// Package testutil provides plugin and project fixtures for plugman tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
)

// WriteTempFile writes content to dir/name, creating parent directories,
// and returns the file path.
func WriteTempFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "failed to create directory for %s", name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to write temp file: %s", name)
	return path
}

// WritePlugin writes d as dir/plugin.yaml and returns dir.
func WritePlugin(t testing.TB, dir string, d plugin.Descriptor) string {
	t.Helper()

	data, err := yaml.Marshal(&d)
	require.NoError(t, err, "failed to encode descriptor of %s", d.ID)
	WriteTempFile(t, dir, plugin.ManifestFile, string(data))
	return dir
}
