package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/plugman/internal/adapters/filesystem"
	"github.com/felixgeelhaar/plugman/internal/adapters/logging"
	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/domain/platform"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/domain/project"
	"github.com/felixgeelhaar/plugman/internal/testutil"
)

type managerEnv struct {
	root    string
	src     string
	project *project.Manifest
	manager *Manager
	web     *fakeAdapter
	logger  *logging.MemoryLogger
}

func newManagerEnv(t *testing.T, registry *fakeRegistry) *managerEnv {
	t.Helper()
	root := t.TempDir()
	manifest := testutil.NewProject("demo").WithPlatform("web", "1.0.0").Write(t, root)

	web := &fakeAdapter{name: "web", version: "1.0.0"}
	adapters := platform.NewRegistry(nil)
	adapters.Register("web", web)
	logger := logging.NewMemoryLogger()

	cfg := ManagerConfig{
		Project:     manifest,
		FS:          filesystem.NewRealFileSystem(),
		Adapters:    adapters,
		Logger:      logger,
		ToolVersion: "1.5.0",
	}
	if registry != nil {
		cfg.Registry = registry
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)

	return &managerEnv{root: root, src: t.TempDir(), project: manifest, manager: m, web: web, logger: logger}
}

func (e *managerEnv) source(t *testing.T, d plugin.Descriptor) string {
	t.Helper()
	return testutil.WritePlugin(t, filepath.Join(e.src, d.ID), d)
}

// fakeRegistry serves generated packages and engine tables.
type fakeRegistry struct {
	mu       sync.Mutex
	packages map[string]engine.PackageInfo
	fetched  []string
}

func (r *fakeRegistry) Fetch(_ context.Context, id, rangeExpr, dest string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.packages[id]
	if !ok {
		return "", errors.New("404 not found")
	}
	version := info.Latest
	if rangeExpr != "" {
		version = engine.MaxSatisfying(info.Versions, rangeExpr)
	}
	r.fetched = append(r.fetched, id+"@"+version)

	dir := filepath.Join(dest, "package")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(&plugin.Descriptor{ID: id, Version: version})
	if err != nil {
		return "", err
	}
	return dir, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), data, 0o644)
}

func (r *fakeRegistry) PackageInfo(_ context.Context, id string) (engine.PackageInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.packages[id]
	if !ok {
		return engine.PackageInfo{}, errors.New("404 not found")
	}
	return info, nil
}

func TestManager_AddContinuesPastFailingTarget(t *testing.T) {
	env := newManagerEnv(t, nil)
	good := env.source(t, plugin.Descriptor{ID: "com.example.good", Version: "1.2.0"})

	result, err := env.manager.Add(context.Background(), AddRequest{
		Targets:    []string{"com.example.missing", good},
		Save:       true,
		NoRegistry: true,
	})

	require.Error(t, err)
	var targetErr *TargetError
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, "com.example.missing", targetErr.Target)

	require.Len(t, result.Targets, 2)
	assert.Error(t, result.Targets[0].Err)
	assert.NoError(t, result.Targets[1].Err)
	assert.Equal(t, "com.example.good", result.Targets[1].Plugin)
	assert.Equal(t, []string{"com.example.good"}, env.web.Added())
	assert.Equal(t, []string{"web"}, result.NeedsPrepare)
	assert.Equal(t, []string{"web"}, result.Prepared)
	assert.Equal(t, 1, env.web.prepares)

	saved, err := project.Load(env.root)
	require.NoError(t, err)
	entry, ok := saved.Plugin("com.example.good")
	require.True(t, ok)
	assert.Equal(t, good, entry.Spec)
	_, ok = saved.Plugin("com.example.missing")
	assert.False(t, ok)

	var out bytes.Buffer
	result.Print(&out)
	assert.Contains(t, out.String(), "✗ com.example.missing")
	assert.Contains(t, out.String(), "✓ com.example.good on web")
	assert.Contains(t, out.String(), "prepared web")
}

func TestManager_AddNoPrepare(t *testing.T) {
	env := newManagerEnv(t, nil)
	good := env.source(t, plugin.Descriptor{ID: "a", Version: "1.0.0"})

	result, err := env.manager.Add(context.Background(), AddRequest{Targets: []string{good}, NoPrepare: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, result.NeedsPrepare)
	assert.Empty(t, result.Prepared)
	assert.Zero(t, env.web.prepares)
}

func TestManager_RequiresTargetsAndPlatforms(t *testing.T) {
	env := newManagerEnv(t, nil)

	_, err := env.manager.Add(context.Background(), AddRequest{})
	assert.ErrorIs(t, err, ErrNoPluginSpecified)

	_, err = env.manager.Remove(context.Background(), RemoveRequest{})
	assert.ErrorIs(t, err, ErrNoPluginSpecified)

	env.project.Platforms = nil
	_, err = env.manager.Add(context.Background(), AddRequest{Targets: []string{"x"}})
	assert.ErrorIs(t, err, ErrNoPlatforms)
}

func TestManager_RemoveAndSave(t *testing.T) {
	env := newManagerEnv(t, nil)
	src := env.source(t, plugin.Descriptor{ID: "a", Version: "1.0.0"})
	_, err := env.manager.Add(context.Background(), AddRequest{Targets: []string{src}, Save: true})
	require.NoError(t, err)

	result, err := env.manager.Remove(context.Background(), RemoveRequest{Targets: []string{"a"}, Save: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, env.web.Removed())
	assert.Equal(t, []string{"web"}, result.Prepared)
	assert.NoDirExists(t, filepath.Join(env.manager.PluginsDir(), "a"))

	saved, err := project.Load(env.root)
	require.NoError(t, err)
	_, ok := saved.Plugin("a")
	assert.False(t, ok)
}

func TestManager_RemoveUnknownPlugin(t *testing.T) {
	env := newManagerEnv(t, nil)

	_, err := env.manager.Remove(context.Background(), RemoveRequest{Targets: []string{"ghost"}})

	var targetErr *TargetError
	require.ErrorAs(t, err, &targetErr)
	assert.True(t, IsNotInstalled(err))
}

func TestManager_ListWarnsAboutMissingDependencies(t *testing.T) {
	env := newManagerEnv(t, nil)
	src := env.source(t, plugin.Descriptor{ID: "a", Version: "1.0.0", Name: "Alpha"})
	_, err := env.manager.Add(context.Background(), AddRequest{Targets: []string{src}})
	require.NoError(t, err)
	testutil.WritePlugin(t, filepath.Join(env.manager.PluginsDir(), "orphan"), plugin.Descriptor{
		ID: "orphan", Version: "0.1.0", Dependencies: []plugin.Dependency{{ID: "gone"}},
	})

	listing, err := env.manager.List(context.Background())

	require.NoError(t, err)
	require.Len(t, listing.Plugins, 2)
	assert.Equal(t, PluginListing{ID: "a", Version: "1.0.0", Name: "Alpha", TopLevel: true, Platforms: []string{"web"}}, listing.Plugins[0])
	assert.Equal(t, "orphan", listing.Plugins[1].ID)
	assert.Empty(t, listing.Plugins[1].Platforms)
	assert.Equal(t, []string{"missing dependency: plugin orphan depends on gone but it is not installed"}, listing.Warnings)
}

func TestManager_SelectsCompatibleRegistryVersion(t *testing.T) {
	registry := &fakeRegistry{packages: map[string]engine.PackageInfo{
		"com.example.sel": {
			Name:     "com.example.sel",
			Latest:   "2.0.0",
			Versions: []string{"1.0.0", "2.0.0"},
			Engines: engine.EngineTable{
				"1.0.0": {"plugman": ">=1.0.0"},
				"2.0.0": {"plugman": ">=3.0.0"},
			},
		},
	}}
	env := newManagerEnv(t, registry)

	result, err := env.manager.Add(context.Background(), AddRequest{Targets: []string{"com.example.sel"}, Save: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.sel@1.0.0"}, registry.fetched)
	assert.Equal(t, "com.example.sel", result.Targets[0].Plugin)
	entry, ok := env.project.Plugin("com.example.sel")
	require.True(t, ok)
	assert.Equal(t, "^1.0.0", entry.Spec)
}

func TestManager_UsesSavedSpec(t *testing.T) {
	registry := &fakeRegistry{packages: map[string]engine.PackageInfo{
		"com.example.pinned": {Name: "com.example.pinned", Latest: "2.1.0", Versions: []string{"1.4.0", "1.5.0", "2.1.0"}},
	}}
	env := newManagerEnv(t, registry)
	env.project.AddPlugin(project.PluginEntry{ID: "com.example.pinned", Spec: "~1.4.0", Variables: map[string]string{"KEY": "v"}})

	_, err := env.manager.Add(context.Background(), AddRequest{Targets: []string{"com.example.pinned"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.pinned@1.4.0"}, registry.fetched)
}

func TestManager_Platforms(t *testing.T) {
	env := newManagerEnv(t, nil)

	infos, err := env.manager.Platforms(context.Background())

	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "web", infos[0].Name)
	assert.Equal(t, "1.0.0", infos[0].Version)
}

func TestNewManager_RequiresProject(t *testing.T) {
	_, err := NewManager(ManagerConfig{FS: filesystem.NewRealFileSystem()})
	assert.ErrorIs(t, err, project.ErrManifestNotFound)
}

func TestIsRegistryID(t *testing.T) {
	fs := filesystem.NewRealFileSystem()
	dir := t.TempDir()

	tests := []struct {
		target string
		want   bool
	}{
		{"com.example.camera", true},
		{"@scope/pkg@1.0.0", true},
		{dir, false},
		{"./local/plugin", false},
		{"https://github.com/example/plugin.git", false},
		{"https://github.com/example/plugin.git#main:sub", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, isRegistryID(tt.target, fs))
		})
	}
}
