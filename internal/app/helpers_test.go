package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/plugman/internal/adapters/filesystem"
	"github.com/felixgeelhaar/plugman/internal/adapters/logging"
	"github.com/felixgeelhaar/plugman/internal/domain/fetch"
	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
	"github.com/felixgeelhaar/plugman/internal/domain/platform"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/domain/state"
	"github.com/felixgeelhaar/plugman/internal/testutil"
)

// fakeAdapter records the plugins added to and removed from a platform.
type fakeAdapter struct {
	mu       sync.Mutex
	name     string
	version  string
	added    []string
	removed  []string
	prepares int
	prepared bool
	addErr   error
}

func (a *fakeAdapter) AddPlugin(_ context.Context, desc *plugin.Descriptor, _ platform.InstallOptions) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.addErr != nil {
		return false, a.addErr
	}
	a.added = append(a.added, desc.ID)
	return a.prepared, nil
}

func (a *fakeAdapter) RemovePlugin(_ context.Context, desc *plugin.Descriptor, _ platform.InstallOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, desc.ID)
	return nil
}

func (a *fakeAdapter) Build(context.Context, platform.BuildOptions) error { return nil }

func (a *fakeAdapter) Run(context.Context, platform.BuildOptions) error { return nil }

func (a *fakeAdapter) Prepare(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prepares++
	return nil
}

func (a *fakeAdapter) PlatformInfo(context.Context) (platform.Info, error) {
	return platform.Info{Name: a.name, Version: a.version}, nil
}

func (a *fakeAdapter) Added() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.added...)
}

func (a *fakeAdapter) Removed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.removed...)
}

var _ platform.Adapter = (*fakeAdapter)(nil)

type testEnv struct {
	root       string
	src        string
	pluginsDir string
	info       *plugin.InfoProvider
	store      *state.Store
	provider   *fetch.Provider
	adapters   *platform.Registry
	web        *fakeAdapter
	android    *fakeAdapter
	bus        *hooks.Bus
	logger     *logging.MemoryLogger

	installer   *Installer
	uninstaller *Uninstaller
}

func newTestEnv(t *testing.T, opts ...InstallerOption) *testEnv {
	t.Helper()

	root := t.TempDir()
	fs := filesystem.NewRealFileSystem()
	pluginsDir := filepath.Join(root, PluginsDirName)
	info := plugin.NewInfoProvider()
	store := state.NewStore(fs, pluginsDir)
	logger := logging.NewMemoryLogger()

	env := &testEnv{
		root:       root,
		src:        t.TempDir(),
		pluginsDir: pluginsDir,
		info:       info,
		store:      store,
		provider:   fetch.NewProvider(fs, info, fetch.WithProviderLogger(logger)),
		adapters:   platform.NewRegistry(nil),
		web:        &fakeAdapter{name: "web", version: "1.0.0"},
		android:    &fakeAdapter{name: "android", version: "12.0.0"},
		bus:        hooks.NewBus(),
		logger:     logger,
	}
	env.adapters.Register("web", env.web)
	env.adapters.Register("android", env.android)

	opts = append([]InstallerOption{WithInstallerLogger(logger), WithHooks(env.bus)}, opts...)
	env.installer = NewInstaller(fs, env.provider, info, store, env.adapters, opts...)
	env.uninstaller = NewUninstaller(fs, info, env.provider.Metadata(), store, env.adapters,
		WithUninstallerLogger(logger), WithUninstallHooks(env.bus))
	return env
}

// source writes a plugin source directory and returns its path.
func (e *testEnv) source(t *testing.T, d plugin.Descriptor) string {
	t.Helper()
	return testutil.WritePlugin(t, filepath.Join(e.src, d.ID+"-"+d.Version), d)
}

// fetch places a source in the plugins directory.
func (e *testEnv) fetch(t *testing.T, src string) string {
	t.Helper()
	dir, err := e.provider.Fetch(context.Background(), src, e.pluginsDir, fetch.Options{IsTopLevel: true})
	require.NoError(t, err)
	return dir
}

// install fetches src and installs it top-level on platformName. The
// install owns the plugin directory when this fetch created it.
func (e *testEnv) install(t *testing.T, platformName, src string, opts InstallOptions) Outcome {
	t.Helper()
	desc, err := plugin.LoadDescriptor(src)
	require.NoError(t, err)
	opts.NewlyFetched = opts.NewlyFetched || !plugin.HasManifest(e.pluginDir(desc.ID))
	dir := e.fetch(t, src)
	opts.IsTopLevel = true
	return e.installer.Install(context.Background(), platformName, dir, opts)
}

func (e *testEnv) record(t *testing.T, platformName string) *state.Record {
	t.Helper()
	r, err := e.store.Record(platformName)
	require.NoError(t, err)
	return r
}

func (e *testEnv) pluginDir(id string) string {
	return filepath.Join(e.pluginsDir, filepath.FromSlash(id))
}

func dep(id, version, url string) plugin.Dependency {
	return plugin.Dependency{ID: id, Version: version, URL: url}
}
