package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelsec/kestrel/internal/platform"
)

func manifestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLatestSelectsPlatformAsset(t *testing.T) {
	server := manifestServer(t, `{
		"name": "kestrel",
		"version": "1.4.0",
		"assets": {
			"linux-amd64": {"url": "https://dl.example.test/kestrel-linux-amd64", "checksum": "sha256:aa"},
			"darwin-arm64": {"url": "https://dl.example.test/kestrel-darwin-arm64", "checksum": "sha256:bb"}
		}
	}`)

	source := NewHTTPSource(nil, server.URL, platform.StaticDetector{
		Info: platform.Info{OS: "darwin", Arch: "arm64"},
	})

	release, err := source.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}

	if release.Version != "1.4.0" {
		t.Errorf("version = %q, want 1.4.0", release.Version)
	}
	if release.URL != "https://dl.example.test/kestrel-darwin-arm64" {
		t.Errorf("url = %q", release.URL)
	}
	if release.Checksum != "sha256:bb" {
		t.Errorf("checksum = %q", release.Checksum)
	}
}

func TestLatestMuslFallsBackToGenericAsset(t *testing.T) {
	server := manifestServer(t, `{
		"version": "1.4.0",
		"assets": {
			"linux-amd64": {"url": "https://dl.example.test/generic", "checksum": "sha256:aa"}
		}
	}`)

	source := NewHTTPSource(nil, server.URL, platform.StaticDetector{
		Info: platform.Info{OS: "linux", Arch: "amd64", Libc: "musl"},
	})

	release, err := source.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if release.URL != "https://dl.example.test/generic" {
		t.Errorf("url = %q, want generic asset", release.URL)
	}
}

func TestLatestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing_version", body: `{"assets": {}}`},
		{name: "no_matching_asset", body: `{"version": "1.0.0", "assets": {"windows-amd64": {"url": "u", "checksum": "c"}}}`},
		{name: "asset_missing_checksum", body: `{"version": "1.0.0", "assets": {"linux-amd64": {"url": "u"}}}`},
		{name: "malformed_manifest", body: `not json at all`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := manifestServer(t, tt.body)
			source := NewHTTPSource(nil, server.URL, platform.StaticDetector{
				Info: platform.Info{OS: "linux", Arch: "amd64"},
			})

			if _, err := source.Latest(context.Background()); err == nil {
				t.Error("Latest() expected error")
			}
		})
	}
}
