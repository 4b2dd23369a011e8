// Package migrations embeds the SQL schema migrations applied at startup.
//
// Files follow the naming convention YYYYMMDD_HHMMSS_description.up.sql
// with an optional matching .down.sql for rollback.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
