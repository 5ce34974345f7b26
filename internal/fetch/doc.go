// Package fetch provides the retrying HTTP client used for all
// network-sourced artifacts: registry version checks and executable
// downloads.
//
// # Behavior
//
//   - Redirects are followed manually so the hop limit is enforced;
//     exceeding it fails with RedirectLoopError.
//   - Network errors, timeouts, and 5xx responses are retried with
//     exponential backoff (delay doubles per attempt); 4xx responses
//     fail immediately.
//   - Downloads stream to a temporary sibling file and are renamed into
//     place only on full success, so a half-written file is never
//     visible at the destination path.
//
// Checksum validation is explicitly the caller's responsibility.
package fetch
