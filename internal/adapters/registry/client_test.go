package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type fakeRegistry struct {
	*httptest.Server
	auth []string
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	archives := map[string][]byte{
		"1.0.0": tarball(t, map[string]string{"package/plugin.yaml": "id: com.example.camera\nversion: 1.0.0\n"}),
		"1.2.0": tarball(t, map[string]string{"package/plugin.yaml": "id: com.example.camera\nversion: 1.2.0\n"}),
		"2.0.0": tarball(t, map[string]string{"package/plugin.yaml": "id: com.example.camera\nversion: 2.0.0\n"}),
	}

	f := &fakeRegistry{}
	mux := http.NewServeMux()
	mux.HandleFunc("/com.example.camera", func(w http.ResponseWriter, r *http.Request) {
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		base := "http://" + r.Host
		doc := `{
			"name": "com.example.camera",
			"dist-tags": {"latest": "2.0.0", "next": "1.2.0"},
			"versions": {
				"1.0.0": {"version": "1.0.0", "dist": {"tarball": "` + base + `/tarballs/1.0.0.tgz"}},
				"1.2.0": {"version": "1.2.0", "dist": {"tarball": "` + base + `/tarballs/1.2.0.tgz"}},
				"2.0.0": {"version": "2.0.0", "dist": {"tarball": "` + base + `/tarballs/2.0.0.tgz"},
					"engines": {
						"node": ">=18",
						"plugmanDependencies": {
							"1.0.0": {"plugman": ">=1.0.0"},
							"2.0.0": {"plugman": ">=3.0.0", "plugman-web": ">=2.0.0"}
						}
					}}
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/tarballs/", func(w http.ResponseWriter, r *http.Request) {
		version := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/tarballs/"), ".tgz")
		data, ok := archives[version]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func TestClient_PackageInfo(t *testing.T) {
	srv := newFakeRegistry(t)
	client := NewClient(Config{URL: srv.URL})

	info, err := client.PackageInfo(context.Background(), "com.example.camera")

	require.NoError(t, err)
	assert.Equal(t, "com.example.camera", info.Name)
	assert.Equal(t, "2.0.0", info.Latest)
	assert.Equal(t, []string{"2.0.0", "1.2.0", "1.0.0"}, info.Versions)
	assert.Equal(t, map[string]string{"plugman": ">=3.0.0", "plugman-web": ">=2.0.0"}, info.Engines["2.0.0"])
	assert.Equal(t, map[string]string{"plugman": ">=1.0.0"}, info.Engines["1.0.0"])
}

func TestClient_Fetch(t *testing.T) {
	srv := newFakeRegistry(t)
	client := NewClient(Config{URL: srv.URL})

	tests := []struct {
		name      string
		rangeExpr string
		want      string
	}{
		{name: "latest", rangeExpr: "", want: "2.0.0"},
		{name: "dist tag", rangeExpr: "next", want: "1.2.0"},
		{name: "exact", rangeExpr: "1.0.0", want: "1.0.0"},
		{name: "range", rangeExpr: "^1.0.0", want: "1.2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := t.TempDir()
			dir, err := client.Fetch(context.Background(), "com.example.camera", tt.rangeExpr, dest)

			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dest, "package"), dir)
			data, err := os.ReadFile(filepath.Join(dir, "plugin.yaml"))
			require.NoError(t, err)
			assert.Contains(t, string(data), "version: "+tt.want)
		})
	}
}

func TestClient_FetchErrors(t *testing.T) {
	srv := newFakeRegistry(t)
	client := NewClient(Config{URL: srv.URL})

	_, err := client.Fetch(context.Background(), "com.example.unknown", "", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.Fetch(context.Background(), "com.example.camera", "^9.0.0", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_SendsTokenToConfiguredHost(t *testing.T) {
	srv := newFakeRegistry(t)
	client := NewClient(Config{URL: srv.URL, Token: "secret"})

	_, err := client.PackageInfo(context.Background(), "com.example.camera")

	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer secret"}, srv.auth)
}

func TestExtract_RejectsTraversal(t *testing.T) {
	data := tarball(t, map[string]string{"../evil.txt": "boom"})
	dest := t.TempDir()

	err := extract(bytes.NewReader(data), dest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file path")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.txt"))
}

func TestLoadNpmrc(t *testing.T) {
	home := filepath.Join(t.TempDir(), ".npmrc")
	project := filepath.Join(t.TempDir(), ".npmrc")
	require.NoError(t, os.WriteFile(home, []byte("registry=https://home.example.com/\n_authToken=fallback\n"), 0o600))
	require.NoError(t, os.WriteFile(project, []byte(
		"registry=https://npm.example.com/team/\n//npm.example.com/team/:_authToken=${NPM_TOKEN}\n"), 0o600))
	t.Setenv("NPM_TOKEN", "from-env")

	t.Run("project overrides home", func(t *testing.T) {
		cfg, err := LoadNpmrc(home, project)
		require.NoError(t, err)
		assert.Equal(t, "https://npm.example.com/team/", cfg.URL)
		assert.Equal(t, "from-env", cfg.Token)
	})

	t.Run("global token", func(t *testing.T) {
		cfg, err := LoadNpmrc(home)
		require.NoError(t, err)
		assert.Equal(t, "https://home.example.com/", cfg.URL)
		assert.Equal(t, "fallback", cfg.Token)
	})

	t.Run("no files", func(t *testing.T) {
		cfg, err := LoadNpmrc(filepath.Join(t.TempDir(), "missing"))
		require.NoError(t, err)
		assert.Equal(t, Config{URL: DefaultURL}, cfg)
	})
}

func TestAuthKey(t *testing.T) {
	assert.Equal(t, "//registry.npmjs.org/:_authToken", authKey(DefaultURL))
	assert.Equal(t, "//npm.example.com/team/:_authToken", authKey("https://npm.example.com/team"))
	assert.Equal(t, "_authToken", authKey("not a url"))
}
