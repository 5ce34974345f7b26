// Package locker provides cross-process mutual exclusion for downloads.
//
// Each destination path is guarded by a JSON lock sidecar at
// <dirname(dest)>/.locks/<sanitized-name>.lock, created with O_EXCL so
// acquisition is atomic across processes. A lock whose owner process is
// no longer running, or whose age exceeds the stale threshold, is
// forcibly reclaimed; liveness is checked with an OS process-existence
// query rather than a heartbeat, which is acceptable because these
// processes are short-lived.
//
// At most one process actively transfers bytes to a given destination;
// any number may wait. Waiters that observe the destination appear
// return it without downloading.
package locker
