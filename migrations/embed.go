// Package migrations embeds the PostgreSQL schema migrations so the server
// can apply them at startup regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem (001_initial.sql, ...).
//
//go:embed *.sql
var FS embed.FS
