// Package state persists which plugins are installed on each platform.
package state

import (
	"sort"
)

// Variables are the install-time variable values of a plugin.
type Variables map[string]string

// Clone returns a copy of v.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Record is the installed state of one platform. A plugin lives in exactly
// one of the top-level or dependent sets. Mutations are in-memory until Save.
type Record struct {
	platform  string
	path      string
	store     *Store
	installed map[string]Variables
	dependent map[string]Variables
}

// recordDTO is the persisted shape of plugins/<platform>.json.
type recordDTO struct {
	InstalledPlugins map[string]Variables `json:"installed_plugins"`
	DependentPlugins map[string]Variables `json:"dependent_plugins"`
}

func newRecord(store *Store, platform, path string) *Record {
	return &Record{
		platform:  platform,
		path:      path,
		store:     store,
		installed: make(map[string]Variables),
		dependent: make(map[string]Variables),
	}
}

// Platform returns the platform name of the record.
func (r *Record) Platform() string {
	return r.platform
}

// IsPluginInstalled reports whether id is installed, top-level or dependent.
func (r *Record) IsPluginInstalled(id string) bool {
	return r.IsPluginTopLevel(id) || r.IsPluginDependent(id)
}

// IsPluginTopLevel reports whether id was requested explicitly.
func (r *Record) IsPluginTopLevel(id string) bool {
	_, ok := r.installed[id]
	return ok
}

// IsPluginDependent reports whether id is installed only as a dependency.
func (r *Record) IsPluginDependent(id string) bool {
	_, ok := r.dependent[id]
	return ok
}

// AddPlugin records id with its variables.
func (r *Record) AddPlugin(id string, vars Variables, topLevel bool) {
	if vars == nil {
		vars = Variables{}
	}
	if topLevel {
		delete(r.dependent, id)
		r.installed[id] = vars.Clone()
		return
	}
	if r.IsPluginTopLevel(id) {
		return
	}
	r.dependent[id] = vars.Clone()
}

// RemovePlugin drops id from the top-level or dependent set.
func (r *Record) RemovePlugin(id string, topLevel bool) {
	if topLevel {
		delete(r.installed, id)
		return
	}
	delete(r.dependent, id)
}

// MakeTopLevel promotes a dependent plugin, keeping its variables.
// It returns false when id is not a dependent plugin.
func (r *Record) MakeTopLevel(id string) bool {
	vars, ok := r.dependent[id]
	if !ok {
		return false
	}
	delete(r.dependent, id)
	r.installed[id] = vars
	return true
}

// TopLevel returns the ids of top-level plugins, sorted.
func (r *Record) TopLevel() []string {
	return sortedIDs(r.installed)
}

// Dependent returns the ids of dependent plugins, sorted.
func (r *Record) Dependent() []string {
	return sortedIDs(r.dependent)
}

// Installed returns every installed id, top-level first.
func (r *Record) Installed() []string {
	return append(r.TopLevel(), r.Dependent()...)
}

// Variables returns a copy of the variables recorded for id.
func (r *Record) Variables(id string) Variables {
	if vars, ok := r.installed[id]; ok {
		return vars.Clone()
	}
	if vars, ok := r.dependent[id]; ok {
		return vars.Clone()
	}
	return nil
}

// Save writes the record to disk.
func (r *Record) Save() error {
	return r.store.save(r)
}

func (r *Record) toDTO() recordDTO {
	return recordDTO{InstalledPlugins: r.installed, DependentPlugins: r.dependent}
}

func sortedIDs(m map[string]Variables) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
