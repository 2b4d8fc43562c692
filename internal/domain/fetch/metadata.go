package fetch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/plugman/internal/ports"
)

// MetadataFile is the provenance file kept in the plugins directory.
const MetadataFile = "fetch.json"

// SourceType names where a plugin came from.
type SourceType string

// Source types.
const (
	SourceLocal    SourceType = "local"
	SourceGit      SourceType = "git"
	SourceRegistry SourceType = "registry"
)

// Source describes the origin of a fetched plugin.
type Source struct {
	Type   SourceType `json:"type"`
	Path   string     `json:"path,omitempty"`
	URL    string     `json:"url,omitempty"`
	ID     string     `json:"id,omitempty"`
	Subdir string     `json:"subdir,omitempty"`
	Ref    string     `json:"ref,omitempty"`
}

// Metadata is the fetch.json entry of one plugin.
type Metadata struct {
	Source     Source            `json:"source"`
	IsTopLevel bool              `json:"is_top_level"`
	Variables  map[string]string `json:"variables"`
}

// MetadataStore reads and writes fetch.json. Decoded files are cached per
// plugins directory until Invalidate or a write through the store.
type MetadataStore struct {
	fs    ports.FileSystem
	mu    sync.Mutex
	cache map[string]map[string]Metadata
}

// NewMetadataStore creates a MetadataStore.
func NewMetadataStore(fs ports.FileSystem) *MetadataStore {
	return &MetadataStore{fs: fs, cache: make(map[string]map[string]Metadata)}
}

// Get returns the metadata for id.
func (s *MetadataStore) Get(pluginsDir, id string) (Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(pluginsDir)
	if err != nil {
		return Metadata{}, false, err
	}
	md, ok := all[id]
	return md, ok, nil
}

// Save writes the metadata for id, replacing any previous entry.
func (s *MetadataStore) Save(pluginsDir, id string, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(pluginsDir)
	if err != nil {
		return err
	}
	if md.Variables == nil {
		md.Variables = map[string]string{}
	}
	all[id] = md
	return s.write(pluginsDir, all)
}

// Remove deletes the entry for id. Removing a missing entry is not an error.
func (s *MetadataStore) Remove(pluginsDir, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(pluginsDir)
	if err != nil {
		return err
	}
	if _, ok := all[id]; !ok {
		return nil
	}
	delete(all, id)
	return s.write(pluginsDir, all)
}

// Invalidate drops the cached file for pluginsDir.
func (s *MetadataStore) Invalidate(pluginsDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, filepath.Clean(pluginsDir))
}

func (s *MetadataStore) load(pluginsDir string) (map[string]Metadata, error) {
	key := filepath.Clean(pluginsDir)
	if all, ok := s.cache[key]; ok {
		return all, nil
	}

	all := make(map[string]Metadata)
	path := filepath.Join(pluginsDir, MetadataFile)
	if s.fs.Exists(path) {
		data, err := s.fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &all); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	s.cache[key] = all
	return all, nil
}

func (s *MetadataStore) write(pluginsDir string, all map[string]Metadata) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(pluginsDir, MetadataFile)
	if err := s.fs.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	s.cache[filepath.Clean(pluginsDir)] = all
	return nil
}
