// Package migrations embeds the schema migration files so cmd/migrate
// (and test setup) can run them without reading from disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
