// Package cache provides namespaced TTL key/value persistence shared
// across concurrent invocations, plus the update-check specialization.
//
// Each namespace is one JSON document under the cache root, lazily
// loaded and written back via write-temp-then-rename. Before answering
// a read, the backing file's modification time is compared against the
// last load and reloaded if newer, giving multi-process visibility
// without reparsing on every call. Corrupted documents are treated as
// an empty cache and silently overwritten on the next write, never a
// fatal error.
package cache
