// Package plugin models plugin descriptors (plugin.yaml) and loads them from disk.
package plugin

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the descriptor file name expected in every plugin root.
const ManifestFile = "plugin.yaml"

// Preference is a named install-time variable with an optional default.
type Preference struct {
	Name    string `yaml:"name"`
	Default string `yaml:"default,omitempty"`
}

// Dependency declares another plugin this plugin needs.
type Dependency struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Subdir  string `yaml:"subdir,omitempty"`
	Commit  string `yaml:"commit,omitempty"`
}

// Engine declares a version requirement on the tool, a platform or another plugin.
type Engine struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Platform  string `yaml:"platform,omitempty"`
	ScriptSrc string `yaml:"scriptSrc,omitempty"`
}

// PlatformSection holds per-platform overrides.
type PlatformSection struct {
	Preferences  []Preference `yaml:"preferences,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
	Info         []string     `yaml:"info,omitempty"`
}

// Descriptor is the parsed content of a plugin's plugin.yaml.
// A loaded Descriptor is shared through the loader cache and must not be mutated.
type Descriptor struct {
	ID           string                     `yaml:"id"`
	Version      string                     `yaml:"version"`
	Name         string                     `yaml:"name,omitempty"`
	Description  string                     `yaml:"description,omitempty"`
	Preferences  []Preference               `yaml:"preferences,omitempty"`
	Dependencies []Dependency               `yaml:"dependencies,omitempty"`
	Engines      []Engine                   `yaml:"engines,omitempty"`
	Info         []string                   `yaml:"info,omitempty"`
	Platforms    map[string]PlatformSection `yaml:"platforms,omitempty"`

	// Dir is the directory the descriptor was loaded from.
	Dir string `yaml:"-"`
}

// ParseDescriptor decodes and validates plugin.yaml content.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// PreferencesFor returns the root preferences merged with the platform's.
// A platform entry replaces a root entry of the same name.
func (d *Descriptor) PreferencesFor(platform string) []Preference {
	section := d.Platforms[platform]
	merged := make([]Preference, 0, len(d.Preferences)+len(section.Preferences))
	index := make(map[string]int)
	for _, list := range [][]Preference{d.Preferences, section.Preferences} {
		for _, p := range list {
			if i, ok := index[p.Name]; ok {
				merged[i] = p
				continue
			}
			index[p.Name] = len(merged)
			merged = append(merged, p)
		}
	}
	return merged
}

// DependenciesFor returns the root dependencies merged with the platform's.
func (d *Descriptor) DependenciesFor(platform string) []Dependency {
	section := d.Platforms[platform]
	merged := make([]Dependency, 0, len(d.Dependencies)+len(section.Dependencies))
	index := make(map[string]int)
	for _, list := range [][]Dependency{d.Dependencies, section.Dependencies} {
		for _, dep := range list {
			if i, ok := index[dep.ID]; ok {
				merged[i] = dep
				continue
			}
			index[dep.ID] = len(merged)
			merged = append(merged, dep)
		}
	}
	return merged
}

// AllDependencies returns the root dependencies plus every platform's,
// deduplicated by id. Uninstall uses it since the removal target spans platforms.
func (d *Descriptor) AllDependencies() []Dependency {
	seen := make(map[string]bool)
	var all []Dependency
	add := func(deps []Dependency) {
		for _, dep := range deps {
			if !seen[dep.ID] {
				seen[dep.ID] = true
				all = append(all, dep)
			}
		}
	}
	add(d.Dependencies)
	for _, name := range sortedKeys(d.Platforms) {
		add(d.Platforms[name].Dependencies)
	}
	return all
}

// InfoFor returns the install notices for the platform, root notices first.
func (d *Descriptor) InfoFor(platform string) []string {
	section := d.Platforms[platform]
	info := make([]string, 0, len(d.Info)+len(section.Info))
	info = append(info, d.Info...)
	return append(info, section.Info...)
}

// EnginesFor returns the engines that apply to platform.
func (d *Descriptor) EnginesFor(platform string) []Engine {
	var engines []Engine
	for _, e := range d.Engines {
		if e.Platform == "" || e.Platform == platform || e.Platform == "*" {
			engines = append(engines, e)
		}
	}
	return engines
}

var pluginIDPattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[A-Za-z0-9][A-Za-z0-9._-]*$`)

// IsValidID reports whether id is a reverse-domain or npm package name.
// Valid ids always resolve to a directory inside the plugins directory.
func IsValidID(id string) bool {
	return pluginIDPattern.MatchString(id)
}

// Validate checks the descriptor's required fields and version syntax.
func (d *Descriptor) Validate() error {
	ve := &ValidationError{}

	if d.ID == "" {
		ve.Add("id is required. Example: id: com.example.camera")
	} else if !pluginIDPattern.MatchString(d.ID) {
		ve.Addf("id %q must be a reverse-domain or npm package name", d.ID)
	}

	if d.Version == "" {
		ve.Add("version is required. Example: version: 1.0.0 (use semantic versioning)")
	} else if _, err := semver.NewVersion(d.Version); err != nil {
		ve.Addf("version %q is not valid semantic versioning", d.Version)
	}

	checkDeps := func(where string, deps []Dependency) {
		for i, dep := range deps {
			switch {
			case strings.TrimSpace(dep.ID) == "":
				ve.Addf("%sdependencies[%d]: id is required", where, i)
			case !IsValidID(dep.ID):
				ve.Addf("%sdependencies[%d]: id %q must be a reverse-domain or npm package name", where, i, dep.ID)
			}
		}
	}
	checkDeps("", d.Dependencies)
	for _, name := range sortedKeys(d.Platforms) {
		checkDeps("platforms."+name+".", d.Platforms[name].Dependencies)
	}

	for i, e := range d.Engines {
		if e.Name == "" {
			ve.Addf("engines[%d]: name is required", i)
		}
		if e.Version == "" {
			ve.Addf("engines[%d]: version is required", i)
		} else if _, err := semver.NewConstraint(e.Version); err != nil {
			ve.Addf("engines[%d]: version range %q cannot be parsed", i, e.Version)
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
