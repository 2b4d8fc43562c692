package fetch

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// GitTransport clones plugin repositories.
type GitTransport interface {
	// Clone clones repoURL into targetPath and checks out ref when set.
	Clone(ctx context.Context, repoURL, ref, targetPath string) error
}

// TagResolver is implemented by git transports that can pick a tag for a
// version range before cloning.
type TagResolver interface {
	ResolveTag(ctx context.Context, repoURL, rangeExpr string) (string, error)
}

// GitCloner clones repositories by running the git binary.
type GitCloner struct {
	runner ports.CommandRunner
	// MaxCloneDepth sets shallow clone depth when no ref is requested (0 = full).
	MaxCloneDepth int
	// Timeout bounds each git invocation.
	Timeout time.Duration
	// GitPath is the path to the git binary (defaults to "git").
	GitPath string
}

// NewGitCloner creates a GitCloner running git through runner.
func NewGitCloner(runner ports.CommandRunner) *GitCloner {
	return &GitCloner{
		runner:        runner,
		MaxCloneDepth: 1,
		Timeout:       2 * time.Minute,
		GitPath:       "git",
	}
}

// Clone clones repoURL into targetPath. A ref may name a branch, tag or
// commit, so it is checked out after a full clone.
func (g *GitCloner) Clone(ctx context.Context, repoURL, ref, targetPath string) error {
	if err := g.checkGitAvailable(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	args := []string{"clone"}
	if ref == "" && g.MaxCloneDepth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", g.MaxCloneDepth))
	}
	args = append(args, repoURL, targetPath)

	if err := g.run(ctx, "", repoURL, args...); err != nil {
		_ = os.RemoveAll(targetPath)
		return err
	}

	if ref != "" {
		if err := g.run(ctx, targetPath, repoURL, "checkout", ref); err != nil {
			_ = os.RemoveAll(targetPath)
			return err
		}
	}
	return nil
}

// TopLevel returns the root of the work tree containing dir.
func (g *GitCloner) TopLevel(ctx context.Context, dir string) (string, error) {
	result, err := g.runner.Run(ctx, dir, g.gitPath(), "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", &GitCloneError{URL: dir, Reason: strings.TrimSpace(result.Stderr)}
	}
	return strings.TrimSpace(result.Stdout), nil
}

// FetchTags retrieves available tags from a remote repository.
func (g *GitCloner) FetchTags(ctx context.Context, repoURL string) ([]string, error) {
	if err := g.checkGitAvailable(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	result, err := g.runner.Run(ctx, "", g.gitPath(), "ls-remote", "--tags", "--refs", repoURL)
	if err != nil || !result.Success() {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &GitCloneError{URL: repoURL, Reason: "fetching tags timed out"}
		}
		return nil, &GitCloneError{URL: repoURL, Reason: strings.TrimSpace(result.Stderr)}
	}

	return parseTags(result.Stdout), nil
}

// ResolveTag returns the highest tag of repoURL whose version is inside
// rangeExpr, or "" when none matches.
func (g *GitCloner) ResolveTag(ctx context.Context, repoURL, rangeExpr string) (string, error) {
	tags, err := g.FetchTags(ctx, repoURL)
	if err != nil {
		return "", err
	}

	var matching []string
	for _, tag := range tags {
		if semver.IsValid(canonical(tag)) && engine.Satisfies(strings.TrimPrefix(tag, "v"), rangeExpr) {
			matching = append(matching, tag)
		}
	}
	if len(matching) == 0 {
		return "", nil
	}

	sort.Slice(matching, func(i, j int) bool {
		return semver.Compare(canonical(matching[i]), canonical(matching[j])) > 0
	})
	return matching[0], nil
}

func (g *GitCloner) run(ctx context.Context, dir, repoURL string, args ...string) error {
	result, err := g.runner.Run(ctx, dir, g.gitPath(), args...)
	if ctx.Err() == context.DeadlineExceeded {
		return &GitCloneError{URL: repoURL, Reason: "git " + args[0] + " timed out"}
	}
	if err != nil {
		return &GitCloneError{URL: repoURL, Reason: err.Error()}
	}
	if !result.Success() {
		return &GitCloneError{URL: repoURL, Reason: strings.TrimSpace(result.Stderr)}
	}
	return nil
}

// checkGitAvailable verifies git is installed and accessible.
func (g *GitCloner) checkGitAvailable(ctx context.Context) error {
	result, err := g.runner.Run(ctx, "", g.gitPath(), "--version")
	if err != nil || !result.Success() {
		return &GitNotFoundError{}
	}
	return nil
}

func (g *GitCloner) gitPath() string {
	if g.GitPath != "" {
		return g.GitPath
	}
	return "git"
}

func (g *GitCloner) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return 2 * time.Minute
}

// SafeGitEnv returns environment overrides that keep git non-interactive.
func SafeGitEnv() []string {
	return []string{
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
		"LC_ALL=C",
	}
}

var tagPattern = regexp.MustCompile(`refs/tags/([^\s^]+)$`)

// parseTags extracts tag names from git ls-remote output.
func parseTags(output string) []string {
	var tags []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if matches := tagPattern.FindStringSubmatch(line); len(matches) >= 2 {
			tags = append(tags, matches[1])
		}
	}
	return tags
}

func canonical(tag string) string {
	if strings.HasPrefix(tag, "v") {
		return tag
	}
	return "v" + tag
}

// Ensure GitCloner implements GitTransport.
var (
	_ GitTransport = (*GitCloner)(nil)
	_ TagResolver  = (*GitCloner)(nil)
)
