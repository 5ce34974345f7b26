// Package verify provides cryptographic verification of downloaded
// update artifacts.
//
// # Verification Strategy
//
// 1. SHA256 checksum (required)
//   - The release manifest carries the expected digest
//   - Verifies integrity; a mismatch always aborts the update
//
// 2. GPG detached signature (optional hardening)
//   - Verified against a keyring shipped on disk
//   - Adds authenticity when the manifest advertises a signature
//
// 3. Sigstore bundle (optional hardening)
//   - Cosign bundle verified against the public-good trusted root
//   - Adds transparency-log-backed authenticity
//
// An artifact is never installed without a successful checksum match;
// the optional methods are enforced whenever their inputs are present.
package verify
