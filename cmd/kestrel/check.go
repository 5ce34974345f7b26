package main

import (
	"fmt"

	"github.com/kestrelsec/kestrel/internal/settings"
)

// runCheck handles the `kestrel check` subcommand.
func runCheck(args []string) error {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			fmt.Println("Usage: kestrel check")
			fmt.Println()
			fmt.Println("Check the release registry for a newer version. The result is")
			fmt.Println("cached, so repeated checks inside the check interval are free.")
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

	result, err := updater.Check(ctx)
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}

	if result.UpdateAvailable {
		fmt.Printf("Update available: %s -> %s\n", result.CurrentVersion, result.LatestVersion)
		fmt.Println("Run 'kestrel update' to install it.")
	} else {
		fmt.Printf("kestrel %s is up to date\n", result.CurrentVersion)
	}
	return nil
}
