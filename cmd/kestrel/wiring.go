package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kestrelsec/kestrel/internal/cache"
	"github.com/kestrelsec/kestrel/internal/fetch"
	"github.com/kestrelsec/kestrel/internal/locker"
	"github.com/kestrelsec/kestrel/internal/logctx"
	"github.com/kestrelsec/kestrel/internal/policy"
	"github.com/kestrelsec/kestrel/internal/release"
	"github.com/kestrelsec/kestrel/internal/selfupdate"
	"github.com/kestrelsec/kestrel/internal/settings"
	"github.com/kestrelsec/kestrel/internal/verify"
)

// newContext loads settings and returns a context carrying a logger
// configured from them.
func newContext(s *settings.Settings) context.Context {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: s.SlogLevel(),
	}))
	return logctx.WithLogger(context.Background(), logger)
}

// updateReminder returns a reminder line when a newer release is
// already known from an earlier check and the notification cooldown has
// lapsed. It never hits the network; failures stay silent so startup is
// never blocked by reminder plumbing.
func updateReminder() string {
	s, err := settings.Load()
	if err != nil {
		return ""
	}
	u, err := newUpdater(s)
	if err != nil {
		return ""
	}

	latest, due := u.NotifyIfDue()
	if !due {
		return ""
	}
	return fmt.Sprintf("A newer kestrel is available: %s (current %s). Run 'kestrel update'.", latest, Version)
}

// newUpdater wires the update pipeline from settings.
func newUpdater(s *settings.Settings) (*selfupdate.Updater, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}

	coordinator := locker.New(locker.Config{
		Client:      fetch.NewClient(),
		LockTimeout: s.LockTimeout,
	})
	checker := cache.NewChecker(
		cache.NewStore(s.CacheDir(), cache.UpdateNamespace),
		s.CheckInterval,
		s.NotifyCooldown,
	)

	cfg := selfupdate.Config{
		PackageName:    "kestrel",
		CurrentVersion: Version,
		ExecPath:       execPath,
		Source:         release.NewHTTPSource(nil, s.ManifestURL, nil),
		Coordinator:    coordinator,
		Checker:        checker,
		Policy:         policy.NewEvaluator(s.PolicyPath()),
	}
	if s.GPGKeyring != "" {
		cfg.GPG = verify.NewGPGVerifier(s.GPGKeyring)
	}
	if s.SigstoreIssuer != "" && s.SigstoreIdentity != "" {
		cfg.Bundle = verify.NewBundleVerifier(s.SigstoreIssuer, s.SigstoreIdentity)
	}

	return selfupdate.New(cfg)
}
