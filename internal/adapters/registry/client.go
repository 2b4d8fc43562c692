// Package registry fetches plugin packages from an npm-compatible registry.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/domain/fetch"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

const (
	// dependenciesKey holds the engine table inside a version's engines object.
	dependenciesKey = "plugmanDependencies"

	maxDocumentSize = 32 << 20
	maxPackageSize  = 256 << 20
)

// ErrNotFound is returned when the registry does not know a package or version.
var ErrNotFound = errors.New("not found in registry")

type packageDocument struct {
	Name     string                    `json:"name"`
	DistTags map[string]string         `json:"dist-tags"`
	Versions map[string]versionDetails `json:"versions"`
}

type versionDetails struct {
	Version string `json:"version"`
	// Engines mixes plain "node": ">=18" strings with the nested
	// plugmanDependencies table.
	Engines map[string]interface{} `json:"engines"`
	Dist    struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// Client talks to one registry.
type Client struct {
	cfg    Config
	http   *http.Client
	logger ports.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger ports.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates a registry client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PackageInfo returns the versions of id and the engine table published
// with its latest version.
func (c *Client) PackageInfo(ctx context.Context, id string) (engine.PackageInfo, error) {
	doc, err := c.document(ctx, id)
	if err != nil {
		return engine.PackageInfo{}, err
	}

	info := engine.PackageInfo{Name: doc.Name, Latest: doc.DistTags["latest"]}
	for v := range doc.Versions {
		info.Versions = append(info.Versions, v)
	}
	engine.SortDescending(info.Versions)

	if latest, ok := doc.Versions[info.Latest]; ok {
		info.Engines = engineTable(latest.Engines[dependenciesKey])
	}
	return info, nil
}

// Fetch downloads the highest version of id inside rangeExpr, or the
// latest when rangeExpr is empty, and unpacks it below dest.
func (c *Client) Fetch(ctx context.Context, id, rangeExpr, dest string) (string, error) {
	doc, err := c.document(ctx, id)
	if err != nil {
		return "", err
	}

	version, err := pickVersion(doc, rangeExpr)
	if err != nil {
		return "", fmt.Errorf("%s@%s: %w", id, rangeExpr, err)
	}
	tarball := doc.Versions[version].Dist.Tarball
	if tarball == "" {
		return "", fmt.Errorf("%s@%s has no tarball", id, version)
	}

	c.debug(ctx, "downloading package", ports.PluginField(id), ports.F("version", version), ports.F("url", tarball))
	body, err := c.get(ctx, tarball, "application/octet-stream")
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	if err := extract(io.LimitReader(body, maxPackageSize), dest); err != nil {
		return "", fmt.Errorf("unpacking %s@%s: %w", id, version, err)
	}

	// npm tarballs nest their content in package/.
	if pkg := filepath.Join(dest, "package"); isDir(pkg) {
		return pkg, nil
	}
	return dest, nil
}

func (c *Client) document(ctx context.Context, id string) (*packageDocument, error) {
	endpoint, err := url.JoinPath(c.cfg.URL, url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("reading registry document for %s: %w", id, err)
	}
	var doc packageDocument
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding registry document for %s: %w", id, err)
	}
	if doc.Name == "" {
		doc.Name = id
	}
	return &doc, nil
}

func (c *Client) get(ctx context.Context, rawURL, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.cfg.Token != "" && sameHost(rawURL, c.cfg.URL) {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}

func (c *Client) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if c.logger != nil {
		c.logger.Debug(ctx, msg, fields...)
	}
}

// pickVersion resolves a dist-tag, exact version or range against doc.
func pickVersion(doc *packageDocument, rangeExpr string) (string, error) {
	rangeExpr = strings.TrimSpace(rangeExpr)
	if rangeExpr == "" {
		rangeExpr = "latest"
	}
	if v, ok := doc.DistTags[rangeExpr]; ok {
		return v, nil
	}
	if _, ok := doc.Versions[rangeExpr]; ok {
		return rangeExpr, nil
	}

	versions := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		versions = append(versions, v)
	}
	if v := engine.MaxSatisfying(versions, rangeExpr); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// engineTable converts the decoded plugmanDependencies object. Entries that
// are not string maps are dropped.
func engineTable(raw interface{}) engine.EngineTable {
	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	table := make(engine.EngineTable, len(entries))
	for key, value := range entries {
		reqs, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		converted := make(map[string]string, len(reqs))
		for name, r := range reqs {
			if s, ok := r.(string); ok {
				converted[name] = s
			}
		}
		table[key] = converted
	}
	return table
}

// extract unpacks a gzipped tarball into dest, rejecting entries that
// would escape it.
func extract(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	root := filepath.Clean(dest)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(root, filepath.Clean(filepath.FromSlash(header.Name)))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()|0o600); err != nil {
				return err
			}
		}
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to extract file: %w", err)
	}
	return file.Close()
}

func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	return errA == nil && errB == nil && ua.Host == ub.Host
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

var (
	_ fetch.RegistryTransport = (*Client)(nil)
	_ fetch.PackageInfoSource = (*Client)(nil)
)
