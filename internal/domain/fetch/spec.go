// Package fetch resolves plugin references and places plugin sources in a
// project's plugins directory.
package fetch

import (
	"net/url"
	"regexp"
	"strings"
)

// Spec is a parsed registry reference such as @scope/name@^1.0.
type Spec struct {
	Raw     string
	Scope   string
	ID      string
	Version string
}

var specPattern = regexp.MustCompile(`^(@[^/]+/)?([^@/]+)(?:@(.+))?$`)

// ParseSpec splits a reference into scope, id and version. References that
// are not registry ids (paths, URLs) come back with ID set to the raw input.
func ParseSpec(raw string) Spec {
	m := specPattern.FindStringSubmatch(raw)
	if m == nil {
		return Spec{Raw: raw, ID: raw}
	}
	return Spec{
		Raw:     raw,
		Scope:   strings.TrimSuffix(m[1], "/"),
		ID:      m[1] + m[2],
		Version: m[3],
	}
}

var hashPattern = regexp.MustCompile(`^#([^:]*)(?::/?(.*?)/?)?$`)

// SplitHashURL splits proto://host/path#ref:subdir into its base URL, git
// ref and subdirectory. ok is false when raw has no scheme or no fragment.
func SplitHashURL(raw string) (base, ref, subdir string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || !strings.Contains(raw, "://") {
		return "", "", "", false
	}
	i := strings.Index(raw, "#")
	if i < 0 {
		return "", "", "", false
	}

	m := hashPattern.FindStringSubmatch(raw[i:])
	if m == nil {
		return "", "", "", false
	}
	return raw[:i], m[1], m[2], true
}

var scpLikeGit = regexp.MustCompile(`^[\w.-]+@[\w.-]+:`)

// IsGitURL reports whether raw should be fetched with git.
func IsGitURL(raw string) bool {
	switch {
	case strings.HasPrefix(raw, "git+"),
		strings.HasPrefix(raw, "git://"),
		strings.HasPrefix(raw, "ssh://"),
		strings.HasPrefix(raw, "http://"),
		strings.HasPrefix(raw, "https://"),
		scpLikeGit.MatchString(raw):
		return true
	}
	return strings.HasSuffix(strings.SplitN(raw, "#", 2)[0], ".git")
}

// gitCloneURL strips the git+ prefix used to mark git transports.
func gitCloneURL(raw string) string {
	return strings.TrimPrefix(raw, "git+")
}
