// Package migrations embeds the SQL migrations for the tag store schema.
package migrations

import "embed"

// FS holds the migration files, consumed by golang-migrate's iofs source.
//
//go:embed *.sql
var FS embed.FS
