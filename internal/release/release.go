// Package release discovers the latest published kestrel release from a
// JSON manifest and selects the asset matching the running platform.
package release

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kestrelsec/kestrel/internal/fetch"
	"github.com/kestrelsec/kestrel/internal/platform"
)

// Asset is one downloadable build of a release.
type Asset struct {
	URL          string `json:"url"`
	Checksum     string `json:"checksum"`
	SignatureURL string `json:"signatureUrl,omitempty"`
	BundleURL    string `json:"bundleUrl,omitempty"`
}

// Release is the latest published version plus the asset selected for
// this platform.
type Release struct {
	Version string
	Asset
}

// Source answers "what is the newest published release?".
type Source interface {
	Latest(ctx context.Context) (*Release, error)
}

// manifest is the registry's published document.
type manifest struct {
	Name    string           `json:"name"`
	Version string           `json:"version"`
	Assets  map[string]Asset `json:"assets"`
}

// HTTPSource fetches the release manifest over HTTP.
type HTTPSource struct {
	client      *fetch.Client
	manifestURL string
	detector    platform.Detector
}

// NewHTTPSource creates a release source reading the given manifest URL.
func NewHTTPSource(client *fetch.Client, manifestURL string, detector platform.Detector) *HTTPSource {
	if client == nil {
		client = fetch.NewClient()
	}
	if detector == nil {
		detector = platform.NewDetector()
	}
	return &HTTPSource{
		client:      client,
		manifestURL: manifestURL,
		detector:    detector,
	}
}

// Latest fetches the manifest and picks this platform's asset. When no
// libc-specific asset exists the generic os-arch asset is used.
func (s *HTTPSource) Latest(ctx context.Context) (*Release, error) {
	opts := fetch.DefaultOptions()
	opts.Retries = 2

	resp, err := s.client.Request(ctx, s.manifestURL, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch release manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		return nil, fmt.Errorf("parse release manifest: %w", err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("release manifest missing version")
	}

	info, err := s.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}

	asset, ok := m.Assets[info.AssetKey()]
	if !ok && info.Libc != "" {
		generic := info
		generic.Libc = ""
		asset, ok = m.Assets[generic.AssetKey()]
	}
	if !ok {
		return nil, fmt.Errorf("no asset published for %s in release %s", info.AssetKey(), m.Version)
	}
	if asset.URL == "" || asset.Checksum == "" {
		return nil, fmt.Errorf("asset for %s in release %s is missing url or checksum", info.AssetKey(), m.Version)
	}

	return &Release{Version: m.Version, Asset: asset}, nil
}
