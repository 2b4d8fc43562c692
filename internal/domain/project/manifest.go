// Package project reads and writes the project manifest (project.yaml or
// project.toml) that declares platforms, plugins, search paths and hooks.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// Manifest file names, in lookup order.
const (
	YAMLFile = "project.yaml"
	TOMLFile = "project.toml"
)

// ErrManifestNotFound is returned when neither manifest file exists.
var ErrManifestNotFound = errors.New("no project.yaml or project.toml found")

// Format is the encoding of a manifest file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Platform is an installed native platform.
type Platform struct {
	Name    string `yaml:"name" toml:"name"`
	Version string `yaml:"version,omitempty" toml:"version,omitempty"`
}

// PluginEntry is a plugin the project depends on.
type PluginEntry struct {
	ID        string            `yaml:"id" toml:"id"`
	Spec      string            `yaml:"spec,omitempty" toml:"spec,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty" toml:"variables,omitempty"`
}

// Manifest is the parsed project manifest.
type Manifest struct {
	Name        string        `yaml:"name,omitempty" toml:"name,omitempty"`
	Version     string        `yaml:"version,omitempty" toml:"version,omitempty"`
	Platforms   []Platform    `yaml:"platforms,omitempty" toml:"platforms,omitempty"`
	Plugins     []PluginEntry `yaml:"plugins,omitempty" toml:"plugins,omitempty"`
	SearchPaths []string      `yaml:"searchPaths,omitempty" toml:"searchPaths,omitempty"`
	Hooks       []hooks.Hook  `yaml:"hooks,omitempty" toml:"hooks,omitempty"`

	path   string
	format Format
}

// New creates an empty manifest stored at root in the given format.
func New(root string, format Format) *Manifest {
	name := YAMLFile
	if format == FormatTOML {
		name = TOMLFile
	}
	return &Manifest{path: filepath.Join(root, name), format: format}
}

// Find returns the manifest path in root and its format.
func Find(root string) (string, Format, error) {
	for _, candidate := range []struct {
		name   string
		format Format
	}{{YAMLFile, FormatYAML}, {TOMLFile, FormatTOML}} {
		path := filepath.Join(root, candidate.name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, candidate.format, nil
		}
	}
	return "", "", ErrManifestNotFound
}

// Load reads the manifest in root.
func Load(root string) (*Manifest, error) {
	path, format, err := Find(root)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	m.path = path
	m.format = format
	return m, nil
}

// Parse decodes and validates manifest content.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	case FormatTOML:
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks plugin ids and hooks.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool)
	for i, p := range m.Plugins {
		if p.ID == "" {
			return fmt.Errorf("plugins[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("plugin %s is declared twice", p.ID)
		}
		seen[p.ID] = true
	}
	for i, pl := range m.Platforms {
		if pl.Name == "" {
			return fmt.Errorf("platforms[%d]: name is required", i)
		}
	}
	for _, h := range m.Hooks {
		if err := h.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the file the manifest was loaded from.
func (m *Manifest) Path() string {
	return m.path
}

// Root returns the project root directory.
func (m *Manifest) Root() string {
	return filepath.Dir(m.path)
}

// PlatformNames returns the declared platform names.
func (m *Manifest) PlatformNames() []string {
	names := make([]string, 0, len(m.Platforms))
	for _, p := range m.Platforms {
		names = append(names, p.Name)
	}
	return names
}

// PlatformVersions maps platform names to their declared versions.
func (m *Manifest) PlatformVersions() map[string]string {
	versions := make(map[string]string, len(m.Platforms))
	for _, p := range m.Platforms {
		versions[p.Name] = p.Version
	}
	return versions
}

// Plugin returns the entry for id.
func (m *Manifest) Plugin(id string) (PluginEntry, bool) {
	for _, p := range m.Plugins {
		if p.ID == id {
			return p, true
		}
	}
	return PluginEntry{}, false
}

// AddPlugin inserts entry or replaces the entry with the same id.
func (m *Manifest) AddPlugin(entry PluginEntry) {
	for i, p := range m.Plugins {
		if p.ID == entry.ID {
			m.Plugins[i] = entry
			return
		}
	}
	m.Plugins = append(m.Plugins, entry)
	sort.SliceStable(m.Plugins, func(i, j int) bool { return m.Plugins[i].ID < m.Plugins[j].ID })
}

// RemovePlugin deletes the entry for id and reports whether it existed.
func (m *Manifest) RemovePlugin(id string) bool {
	for i, p := range m.Plugins {
		if p.ID == id {
			m.Plugins = append(m.Plugins[:i], m.Plugins[i+1:]...)
			return true
		}
	}
	return false
}

// Save writes the manifest back to its file through fs.
func (m *Manifest) Save(fs ports.FileSystem) error {
	if m.path == "" {
		return errors.New("manifest has no file path")
	}

	var data []byte
	var err error
	if m.format == FormatTOML {
		data, err = toml.Marshal(m)
	} else {
		data, err = yaml.Marshal(m)
	}
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := fs.WriteFileAtomic(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}
