package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// muslPlatforms are distro IDs whose system libc is musl, which need
// musl-linked release assets.
var muslPlatforms = map[string]bool{
	"alpine":     true,
	"postmarket": true,
}

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect returns the running platform. On Linux the distribution is
// queried to decide whether musl assets are required; if distro
// detection fails the glibc asset is assumed and detection continues.
func (d *RealDetector) Detect(ctx context.Context) (Info, error) {
	info := Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	switch info.Arch {
	case "amd64", "arm64":
	default:
		return Info{}, fmt.Errorf("unsupported architecture: %s", info.Arch)
	}

	if info.OS == "linux" {
		distro, _, _, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Info{}, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			// Graceful fallback: OS/arch alone selects a usable asset.
			return info, nil
		}
		if muslPlatforms[strings.ToLower(strings.TrimSpace(distro))] {
			info.Libc = "musl"
		}
	}

	return info, nil
}

// StaticDetector returns a fixed Info; used by tests and by callers that
// already know the target platform.
type StaticDetector struct {
	Info Info
}

// Detect returns the fixed platform info.
func (d StaticDetector) Detect(ctx context.Context) (Info, error) {
	return d.Info, nil
}
