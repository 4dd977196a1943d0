package migrations

import "embed"

// Files exposes embedded SQL migration files, one subdirectory per store
// backend, ordered lexicographically within each.
//
//go:embed sqlite/*.sql postgres/*.sql
var Files embed.FS
