// Package migrations embeds the SQL migration files for the local store.
package migrations

import "embed"

// FS holds the embedded migration files, applied in order by goose.
//
//go:embed *.sql
var FS embed.FS
