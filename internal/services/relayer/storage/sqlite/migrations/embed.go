package migrations

import "embed"

// FS contains embedded SQLite migrations for relayer key-value storage.
//
//go:embed *.sql
var FS embed.FS
