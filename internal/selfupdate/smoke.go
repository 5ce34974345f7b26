package selfupdate

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const versionProbeTimeout = 10 * time.Second

// runVersionProbe executes the installed binary with --version to prove
// it starts at all before the update is declared done.
func runVersionProbe(ctx context.Context, exePath string) error {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, exePath, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s --version: %w (output: %s)", exePath, err, out)
	}
	return nil
}
