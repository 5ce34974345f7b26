// Package selfupdate orchestrates upgrading the running executable:
// check, download, verify, back up, replace, and clean up, with
// rollback when a freshly installed executable fails its smoke test.
//
// # Pipeline
//
//	CHECKING → DOWNLOADING → VERIFYING → BACKING_UP → REPLACING → CLEANING_UP → DONE
//
// Terminal branches: FAILED aborts before any replace and leaves the
// installed executable untouched; ROLLED_BACK means a replace was
// attempted, the post-replace smoke test failed, and the backup was
// restored.
//
// The install path is never observably neither the old nor the fully
// written new executable: replacement is a same-filesystem atomic
// rename, with a copy-then-rename fallback inside the target filesystem
// when staging lives on a different device.
//
// Working layout: <installRoot>/updater/{downloads,staging,backups}/.
package selfupdate
