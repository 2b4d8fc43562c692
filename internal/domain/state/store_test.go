package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/plugman/internal/adapters/filesystem"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "plugins")
	return NewStore(filesystem.NewRealFileSystem(), dir), dir
}

func TestRecord_AddAndQuery(t *testing.T) {
	store, _ := newTestStore(t)
	r, err := store.Record("android")
	require.NoError(t, err)

	r.AddPlugin("com.example.camera", Variables{"API_KEY": "abc"}, true)
	r.AddPlugin("com.example.core", nil, false)

	assert.True(t, r.IsPluginInstalled("com.example.camera"))
	assert.True(t, r.IsPluginTopLevel("com.example.camera"))
	assert.False(t, r.IsPluginDependent("com.example.camera"))
	assert.True(t, r.IsPluginDependent("com.example.core"))
	assert.Equal(t, []string{"com.example.camera", "com.example.core"}, r.Installed())
	assert.Equal(t, Variables{"API_KEY": "abc"}, r.Variables("com.example.camera"))
	assert.Nil(t, r.Variables("missing"))
}

func TestRecord_DependentNeverShadowsTopLevel(t *testing.T) {
	store, _ := newTestStore(t)
	r, err := store.Record("android")
	require.NoError(t, err)

	r.AddPlugin("a", nil, true)
	r.AddPlugin("a", nil, false)

	assert.True(t, r.IsPluginTopLevel("a"))
	assert.False(t, r.IsPluginDependent("a"))
}

func TestRecord_MakeTopLevel(t *testing.T) {
	store, _ := newTestStore(t)
	r, err := store.Record("ios")
	require.NoError(t, err)

	r.AddPlugin("b", Variables{"X": "1"}, false)
	require.True(t, r.MakeTopLevel("b"))

	assert.True(t, r.IsPluginTopLevel("b"))
	assert.False(t, r.IsPluginDependent("b"))
	assert.Equal(t, Variables{"X": "1"}, r.Variables("b"))
	assert.False(t, r.MakeTopLevel("b"))
}

func TestRecord_RemovePlugin(t *testing.T) {
	store, _ := newTestStore(t)
	r, err := store.Record("ios")
	require.NoError(t, err)

	r.AddPlugin("a", nil, true)
	r.AddPlugin("b", nil, false)

	r.RemovePlugin("a", false)
	assert.True(t, r.IsPluginInstalled("a"), "removing from the wrong set is a no-op")

	r.RemovePlugin("a", true)
	r.RemovePlugin("b", false)
	assert.Empty(t, r.Installed())
}

func TestStore_SaveAndReload(t *testing.T) {
	store, dir := newTestStore(t)
	r, err := store.Record("android")
	require.NoError(t, err)
	r.AddPlugin("a", Variables{"K": "V"}, true)
	r.AddPlugin("b", nil, false)
	require.NoError(t, r.Save())

	data, err := os.ReadFile(filepath.Join(dir, "android.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"installed_plugins":{"a":{"K":"V"}},"dependent_plugins":{"b":{}}}`, string(data))

	reloaded, err := NewStore(filesystem.NewRealFileSystem(), dir).Record("android")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, reloaded.TopLevel())
	assert.Equal(t, []string{"b"}, reloaded.Dependent())
}

func TestStore_UnsavedChangesAreNotDurable(t *testing.T) {
	store, dir := newTestStore(t)
	r, err := store.Record("android")
	require.NoError(t, err)
	r.AddPlugin("a", nil, true)

	store.Invalidate()
	fresh, err := store.Record("android")
	require.NoError(t, err)
	assert.Empty(t, fresh.Installed())
	assert.NoFileExists(t, filepath.Join(dir, "android.json"))
}

func TestStore_PlatformsAndReferences(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "com.example.a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fetch.json"), []byte("{}"), 0o644))

	for _, p := range []string{"ios", "android"} {
		r, err := store.Record(p)
		require.NoError(t, err)
		if p == "ios" {
			r.AddPlugin("com.example.a", nil, true)
		}
		require.NoError(t, r.Save())
	}

	platforms, err := store.Platforms()
	require.NoError(t, err)
	assert.Equal(t, []string{"android", "ios"}, platforms)

	referenced, err := store.IsReferenced("com.example.a")
	require.NoError(t, err)
	assert.True(t, referenced)

	referenced, err = store.IsReferenced("com.example.b")
	require.NoError(t, err)
	assert.False(t, referenced)
}

func TestStore_CorruptRecord(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "android.json"), []byte("{not json"), 0o644))

	_, err := store.Record("android")
	assert.ErrorIs(t, err, ErrRecordCorrupt)
}
