package registry

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.org/"

// Config selects the registry and its credentials.
type Config struct {
	URL   string
	Token string
}

// NpmrcPaths returns the .npmrc files consulted for a project, lowest
// precedence first: the user's, then the project's.
func NpmrcPaths(projectRoot string) []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".npmrc"))
	}
	if projectRoot != "" {
		paths = append(paths, filepath.Join(projectRoot, ".npmrc"))
	}
	return paths
}

// LoadNpmrc reads registry and _authToken settings from the given files.
// Missing files are ignored; later files override earlier ones.
func LoadNpmrc(paths ...string) (Config, error) {
	cfg := Config{URL: DefaultURL}

	var sources []interface{}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			sources = append(sources, p)
		}
	}
	if len(sources) == 0 {
		return cfg, nil
	}

	// npmrc keys such as //host/:_authToken contain colons.
	file, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:  "=",
		IgnoreInlineComment: true,
		AllowBooleanKeys:    true,
	}, sources[0], sources[1:]...)
	if err != nil {
		return cfg, err
	}

	section := file.Section(ini.DefaultSection)
	if v := expand(section.Key("registry").String()); v != "" {
		cfg.URL = v
	}
	cfg.Token = expand(section.Key(authKey(cfg.URL)).String())
	if cfg.Token == "" {
		cfg.Token = expand(section.Key("_authToken").String())
	}
	return cfg, nil
}

// authKey is the nerf-darted key npm stores a registry token under:
// //host/path/:_authToken.
func authKey(registryURL string) string {
	u, err := url.Parse(registryURL)
	if err != nil || u.Host == "" {
		return "_authToken"
	}
	path := u.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return "//" + u.Host + path + ":_authToken"
}

// expand resolves ${VAR} references the way npm does.
func expand(value string) string {
	return os.Expand(strings.TrimSpace(value), func(name string) string {
		return os.Getenv(name)
	})
}
