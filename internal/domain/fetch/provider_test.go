package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/plugman/internal/adapters/filesystem"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
)

func writeFixture(t *testing.T, dir, id, version string, extra ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "id: \"" + id + "\"\nversion: " + version + "\n"
	for _, line := range extra {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(content), 0o644))
}

// fakeGit "clones" by copying a fixture directory.
type fakeGit struct {
	repos map[string]string
	calls []string
	refs  []string
}

func (g *fakeGit) Clone(_ context.Context, repoURL, ref, targetPath string) error {
	g.calls = append(g.calls, repoURL)
	g.refs = append(g.refs, ref)
	src, ok := g.repos[repoURL]
	if !ok {
		return &GitCloneError{URL: repoURL, Reason: "repository not found"}
	}
	return filesystem.NewRealFileSystem().CopyDir(src, targetPath, nil)
}

// taggedGit also answers tag lookups.
type taggedGit struct {
	fakeGit
	tag    string
	ranges []string
}

func (g *taggedGit) ResolveTag(_ context.Context, _, rangeExpr string) (string, error) {
	g.ranges = append(g.ranges, rangeExpr)
	return g.tag, nil
}

type fakeRegistry struct {
	packages map[string]string
	calls    []string
}

func (r *fakeRegistry) Fetch(_ context.Context, id, rangeExpr, dest string) (string, error) {
	r.calls = append(r.calls, id+"@"+rangeExpr)
	src, ok := r.packages[id]
	if !ok {
		return "", errors.New("404 not found")
	}
	target := filepath.Join(dest, "package")
	return target, filesystem.NewRealFileSystem().CopyDir(src, target, nil)
}

func newTestProvider(opts ...ProviderOption) *Provider {
	return NewProvider(filesystem.NewRealFileSystem(), plugin.NewInfoProvider(), opts...)
}

func TestProvider_FetchLocalRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "camera")
	writeFixture(t, src, "com.example.camera", "1.2.0",
		"dependencies:", "  - id: com.example.core", "    version: ^1.0.0")
	require.NoError(t, os.WriteFile(filepath.Join(src, "camera.js"), []byte("// js"), 0o644))
	pluginsDir := filepath.Join(t.TempDir(), "plugins")

	p := newTestProvider()
	dir, err := p.Fetch(context.Background(), src, pluginsDir, Options{IsTopLevel: true, Variables: map[string]string{"K": "V"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pluginsDir, "com.example.camera"), dir)
	assert.FileExists(t, filepath.Join(dir, "camera.js"))

	original, err := plugin.LoadDescriptor(src)
	require.NoError(t, err)
	copied, err := plugin.LoadDescriptor(dir)
	require.NoError(t, err)
	assert.Equal(t, original.ID, copied.ID)
	assert.Equal(t, original.Version, copied.Version)
	assert.Equal(t, original.Dependencies, copied.Dependencies)

	md, ok, err := p.Metadata().Get(pluginsDir, "com.example.camera")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Source{Type: SourceLocal, Path: src}, md.Source)
	assert.True(t, md.IsTopLevel)
	assert.Equal(t, map[string]string{"K": "V"}, md.Variables)
}

func TestProvider_FetchIsIdempotent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "camera")
	writeFixture(t, src, "com.example.camera", "1.2.0")
	pluginsDir := t.TempDir()
	p := newTestProvider()

	dir, err := p.Fetch(context.Background(), src, pluginsDir, Options{})
	require.NoError(t, err)
	marker := filepath.Join(dir, "marker")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	again, err := p.Fetch(context.Background(), src, pluginsDir, Options{})
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.FileExists(t, marker, "existing plugin with the same id is not recopied")
}

func TestProvider_FetchLocalErrors(t *testing.T) {
	pluginsDir := t.TempDir()
	p := newTestProvider()

	t.Run("directory without descriptor", func(t *testing.T) {
		_, err := p.Fetch(context.Background(), t.TempDir(), pluginsDir, Options{})
		assert.True(t, plugin.IsInvalidPlugin(err))
	})

	t.Run("identity mismatch", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "camera")
		writeFixture(t, src, "com.example.camera", "1.2.0")

		_, err := p.Fetch(context.Background(), src, pluginsDir, Options{ExpectedID: "com.example.maps"})
		require.Error(t, err)
		assert.True(t, IsIdentityMismatch(err))
		assert.EqualError(t, err, `expected plugin to have ID "com.example.maps" but got "com.example.camera"`)
		assert.NoDirExists(t, filepath.Join(pluginsDir, "com.example.camera"))
	})

	t.Run("version mismatch", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "camera")
		writeFixture(t, src, "com.example.camera", "1.2.0")

		_, err := p.Fetch(context.Background(), src, pluginsDir, Options{ExpectedID: "com.example.camera@^2.0.0"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `to satisfy version "^2.0.0" but got "1.2.0"`)
	})
}

func TestProvider_FetchLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	src := filepath.Join(t.TempDir(), "camera")
	writeFixture(t, src, "com.example.camera", "1.2.0")
	pluginsDir := t.TempDir()

	dir, err := newTestProvider().Fetch(context.Background(), src, pluginsDir, Options{Link: true})
	require.NoError(t, err)

	target, err := os.Readlink(dir)
	require.NoError(t, err)
	assert.Equal(t, src, target)
}

func TestProvider_FetchNestedDestinationForcesLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	src := t.TempDir()
	writeFixture(t, src, "com.example.self", "1.0.0")
	pluginsDir := filepath.Join(src, "test", "plugins")

	dir, err := newTestProvider().Fetch(context.Background(), src, pluginsDir, Options{})
	require.NoError(t, err)

	isLink, _ := filesystem.NewRealFileSystem().IsSymlink(dir)
	assert.True(t, isLink)
}

func TestProvider_FetchSubdir(t *testing.T) {
	repo := t.TempDir()
	writeFixture(t, filepath.Join(repo, "plugins", "core"), "com.example.core", "1.0.0")
	pluginsDir := t.TempDir()

	dir, err := newTestProvider().Fetch(context.Background(), repo, pluginsDir, Options{Subdir: "plugins/core"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pluginsDir, "com.example.core"), dir)
}

func TestProvider_FetchGit(t *testing.T) {
	repo := t.TempDir()
	writeFixture(t, filepath.Join(repo, "camera"), "com.example.camera", "1.2.0")
	git := &fakeGit{repos: map[string]string{"https://example.com/camera.git": repo}}
	pluginsDir := t.TempDir()

	p := newTestProvider(WithGitTransport(git))
	dir, err := p.Fetch(context.Background(), "https://example.com/camera.git#v1.2.0:camera", pluginsDir, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pluginsDir, "com.example.camera"), dir)
	assert.Equal(t, []string{"v1.2.0"}, git.refs)

	md, ok, err := p.Metadata().Get(pluginsDir, "com.example.camera")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Source{Type: SourceGit, URL: "https://example.com/camera.git", Ref: "v1.2.0", Subdir: "camera"}, md.Source)

	_, err = p.Fetch(context.Background(), "https://example.com/missing.git", pluginsDir, Options{})
	assert.True(t, IsFetchError(err))
	assert.True(t, IsGitCloneError(err))
}

func TestProvider_FetchGitResolvesTagForRange(t *testing.T) {
	repo := t.TempDir()
	writeFixture(t, repo, "com.example.camera", "1.2.0")
	git := &taggedGit{fakeGit: fakeGit{repos: map[string]string{"https://example.com/camera.git": repo}}, tag: "v1.2.0"}

	p := newTestProvider(WithGitTransport(git))
	_, err := p.Fetch(context.Background(), "https://example.com/camera.git", t.TempDir(), Options{ExpectedID: "com.example.camera@^1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"^1.0.0"}, git.ranges)
	assert.Equal(t, []string{"v1.2.0"}, git.refs)

	t.Run("explicit ref wins", func(t *testing.T) {
		git.ranges, git.refs = nil, nil
		_, err := p.Fetch(context.Background(), "https://example.com/camera.git#main", t.TempDir(), Options{ExpectedID: "com.example.camera@^1.0.0"})
		require.NoError(t, err)
		assert.Empty(t, git.ranges)
		assert.Equal(t, []string{"main"}, git.refs)
	})
}

func TestProvider_FetchSearchPath(t *testing.T) {
	search := t.TempDir()
	writeFixture(t, filepath.Join(search, "maps"), "com.example.maps", "1.0.0")
	pluginsDir := t.TempDir()
	registry := &fakeRegistry{}

	p := newTestProvider(WithRegistryTransport(registry))
	dir, err := p.Fetch(context.Background(), "com.example.maps@^1.0.0", pluginsDir, Options{SearchPaths: []string{search}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pluginsDir, "com.example.maps"), dir)
	assert.Empty(t, registry.calls)
}

func TestProvider_FetchRegistry(t *testing.T) {
	pkg := t.TempDir()
	writeFixture(t, pkg, "@acme/camera", "2.1.0")
	registry := &fakeRegistry{packages: map[string]string{"@acme/camera": pkg}}
	pluginsDir := t.TempDir()

	p := newTestProvider(WithRegistryTransport(registry))
	dir, err := p.Fetch(context.Background(), "@acme/camera@^2.0.0", pluginsDir, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pluginsDir, "@acme", "camera"), dir)
	assert.Equal(t, []string{"@acme/camera@^2.0.0"}, registry.calls)

	md, _, err := p.Metadata().Get(pluginsDir, "@acme/camera")
	require.NoError(t, err)
	assert.Equal(t, Source{Type: SourceRegistry, ID: "@acme/camera@^2.0.0"}, md.Source)

	_, err = p.Fetch(context.Background(), "@acme/camera", pluginsDir, Options{})
	require.NoError(t, err)
	assert.Len(t, registry.calls, 1, "an already fetched registry plugin is reused")
}

func TestProvider_FetchRegistryFailures(t *testing.T) {
	pluginsDir := t.TempDir()

	_, err := newTestProvider(WithRegistryTransport(&fakeRegistry{})).
		Fetch(context.Background(), "com.example.none", pluginsDir, Options{})
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
	assert.Contains(t, err.Error(), "404 not found")

	_, err = newTestProvider(WithRegistryTransport(&fakeRegistry{})).
		Fetch(context.Background(), "com.example.none", pluginsDir, Options{NoRegistry: true})
	assert.ErrorIs(t, err, ErrRegistryDisabled)
}
