package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/plugman/internal/adapters/filesystem"
	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/domain/project"
)

// PluginBuilder builds plugin source directories.
type PluginBuilder struct {
	desc  plugin.Descriptor
	files map[string]string
}

// NewPlugin starts a plugin with the given id and version.
func NewPlugin(id, version string) *PluginBuilder {
	return &PluginBuilder{
		desc:  plugin.Descriptor{ID: id, Version: version},
		files: make(map[string]string),
	}
}

// Named sets the display name.
func (b *PluginBuilder) Named(name string) *PluginBuilder {
	b.desc.Name = name
	return b
}

// WithDependency adds a root dependency.
func (b *PluginBuilder) WithDependency(dep plugin.Dependency) *PluginBuilder {
	b.desc.Dependencies = append(b.desc.Dependencies, dep)
	return b
}

// WithPreference adds a root preference; an empty def makes it required.
func (b *PluginBuilder) WithPreference(name, def string) *PluginBuilder {
	b.desc.Preferences = append(b.desc.Preferences, plugin.Preference{Name: name, Default: def})
	return b
}

// WithEngine adds an engine requirement.
func (b *PluginBuilder) WithEngine(name, rangeExpr string) *PluginBuilder {
	b.desc.Engines = append(b.desc.Engines, plugin.Engine{Name: name, Version: rangeExpr})
	return b
}

// WithInfo adds an install notice.
func (b *PluginBuilder) WithInfo(msg string) *PluginBuilder {
	b.desc.Info = append(b.desc.Info, msg)
	return b
}

// WithAsset adds a file below platforms/<platform>/ in the plugin.
func (b *PluginBuilder) WithAsset(platform, name, content string) *PluginBuilder {
	b.files["platforms/"+platform+"/"+name] = content
	return b
}

// Descriptor returns the descriptor built so far.
func (b *PluginBuilder) Descriptor() plugin.Descriptor {
	return b.desc
}

// Write creates the plugin in dir and returns dir.
func (b *PluginBuilder) Write(t testing.TB, dir string) string {
	t.Helper()
	for name, content := range b.files {
		WriteTempFile(t, dir, name, content)
	}
	return WritePlugin(t, dir, b.desc)
}

// ProjectBuilder builds project manifests.
type ProjectBuilder struct {
	manifest project.Manifest
	format   project.Format
}

// NewProject starts a YAML project manifest.
func NewProject(name string) *ProjectBuilder {
	return &ProjectBuilder{manifest: project.Manifest{Name: name}, format: project.FormatYAML}
}

// AsTOML stores the manifest as project.toml.
func (b *ProjectBuilder) AsTOML() *ProjectBuilder {
	b.format = project.FormatTOML
	return b
}

// WithPlatform declares a platform.
func (b *ProjectBuilder) WithPlatform(name, version string) *ProjectBuilder {
	b.manifest.Platforms = append(b.manifest.Platforms, project.Platform{Name: name, Version: version})
	return b
}

// WithPlugin adds a saved plugin entry.
func (b *ProjectBuilder) WithPlugin(entry project.PluginEntry) *ProjectBuilder {
	b.manifest.Plugins = append(b.manifest.Plugins, entry)
	return b
}

// WithSearchPath adds a plugin search path.
func (b *ProjectBuilder) WithSearchPath(path string) *ProjectBuilder {
	b.manifest.SearchPaths = append(b.manifest.SearchPaths, path)
	return b
}

// WithHook adds a project hook.
func (b *ProjectBuilder) WithHook(event hooks.Event, command string) *ProjectBuilder {
	b.manifest.Hooks = append(b.manifest.Hooks, hooks.Hook{Event: event, Command: command})
	return b
}

// Write saves the manifest in root and returns it loaded back.
func (b *ProjectBuilder) Write(t testing.TB, root string) *project.Manifest {
	t.Helper()

	m := project.New(root, b.format)
	m.Name = b.manifest.Name
	m.Platforms = b.manifest.Platforms
	m.SearchPaths = b.manifest.SearchPaths
	m.Hooks = b.manifest.Hooks
	for _, entry := range b.manifest.Plugins {
		m.AddPlugin(entry)
	}
	require.NoError(t, m.Save(filesystem.NewRealFileSystem()), "failed to save project manifest")

	loaded, err := project.Load(root)
	require.NoError(t, err, "failed to load project manifest")
	return loaded
}
