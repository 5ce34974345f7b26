package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.0.1-alpha"

func main() {
	// Cooldown-gated update reminder; check and update query the
	// registry themselves, so the reminder would be noise there.
	if len(os.Args) > 1 && os.Args[1] != "check" && os.Args[1] != "update" {
		if msg := updateReminder(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
	}

	// Handle subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "version":
			fmt.Printf("kestrel %s\n", Version)
			return
		case "check":
			if err := runCheck(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "update":
			if err := runUpdate(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "config":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "Error: config subcommand requires an action")
				fmt.Fprintln(os.Stderr, "Usage: kestrel config get <key>")
				fmt.Fprintln(os.Stderr, "       kestrel config set <key> <value>")
				fmt.Fprintln(os.Stderr, "       kestrel config unset <key>")
				os.Exit(1)
			}
			switch os.Args[2] {
			case "get":
				if err := runConfigGet(os.Args[3:]); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
			case "set":
				if err := runConfigSet(os.Args[3:]); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
			case "unset":
				if err := runConfigUnset(os.Args[3:]); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
			default:
				fmt.Fprintf(os.Stderr, "Error: unknown config action: %s\n", os.Args[2])
				fmt.Fprintln(os.Stderr, "Usage: kestrel config get <key>")
				fmt.Fprintln(os.Stderr, "       kestrel config set <key> <value>")
				fmt.Fprintln(os.Stderr, "       kestrel config unset <key>")
				os.Exit(1)
			}
			return
		}
	}

	// Default: show help
	fmt.Println("kestrel - security scanning from your terminal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kestrel --version                Show version information")
	fmt.Println("  kestrel check                    Check for a newer release")
	fmt.Println("  kestrel update                   Download, verify, and install the latest release")
	fmt.Println("  kestrel config get <key>         Print a configuration value")
	fmt.Println("  kestrel config set <key> <value> Set a configuration value")
	fmt.Println("  kestrel config unset <key>       Remove a configuration value")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  KESTREL_HOME_DIR      State directory (default ~/.kestrel)")
	fmt.Println("  KESTREL_MANIFEST_URL  Release manifest URL")
	fmt.Println("  KESTREL_LOG_LEVEL     DEBUG, INFO, WARN, or ERROR")
}
