// Package migrations embeds the SQL schema so binaries carry it with them.
package migrations

import "embed"

// FS holds NNN_name.up.sql and NNN_name.down.sql pairs
//
//go:embed *.sql
var FS embed.FS
