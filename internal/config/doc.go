// Package config provides read-through access to kestrel's JSON
// configuration file, kept consistent with disk across concurrent
// invocations.
//
// The cached parse is valid only while the on-disk file's modification
// time equals the mtime recorded at parse time. Every read stats the
// file: a missing file clears the cache and yields an empty default, a
// changed mtime triggers a re-parse, a matching mtime answers from
// memory without touching disk. Writes go through temp+rename, which
// also bumps the mtime so concurrent invocations revalidate.
package config
