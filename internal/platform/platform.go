// Package platform detects the running OS, architecture, and libc
// flavor so release discovery can pick the matching published asset.
// It uses gopsutil for Linux distribution detection and falls back
// gracefully when detection fails.
package platform

import "context"

// Info identifies the platform an executable must be built for.
type Info struct {
	OS   string // "linux", "darwin", "windows"
	Arch string // "amd64", "arm64"
	Libc string // "musl" on musl-based distros, otherwise empty
}

// AssetKey returns the platform tag used in release asset names,
// e.g. "linux-amd64", "linux-arm64-musl", "darwin-arm64".
func (i Info) AssetKey() string {
	key := i.OS + "-" + i.Arch
	if i.Libc != "" {
		key += "-" + i.Libc
	}
	return key
}

// ExeSuffix returns the executable filename suffix for the platform.
func (i Info) ExeSuffix() string {
	if i.OS == "windows" {
		return ".exe"
	}
	return ""
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (Info, error)
}
