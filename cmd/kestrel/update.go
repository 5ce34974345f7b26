package main

import (
	"fmt"

	"github.com/kestrelsec/kestrel/internal/selfupdate"
	"github.com/kestrelsec/kestrel/internal/settings"
)

// runUpdate handles the `kestrel update` subcommand.
func runUpdate(args []string) error {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			fmt.Println("Usage: kestrel update")
			fmt.Println()
			fmt.Println("Download, verify, and install the latest release, replacing the")
			fmt.Println("running executable. The previous version is backed up and restored")
			fmt.Println("automatically if the new one fails its startup check.")
			return nil
		}
		return fmt.Errorf("unknown option: %s", arg)
	}

	s, err := settings.Load()
	if err != nil {
		return err
	}
	ctx := newContext(s)

	updater, err := newUpdater(s)
	if err != nil {
		return err
	}

	result, err := updater.Apply(ctx)
	if err != nil {
		if result != nil && result.State == selfupdate.StateRolledBack {
			fmt.Printf("Update to %s failed during %s; previous version restored.\n",
				result.ToVersion, result.FailedStage)
		}
		return err
	}

	if result.Updated {
		fmt.Printf("Updated kestrel %s -> %s\n", result.FromVersion, result.ToVersion)
	} else {
		fmt.Println(result.Reason)
	}
	return nil
}
