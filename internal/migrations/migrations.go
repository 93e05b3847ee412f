package migrations

import "embed"

// Files holds the SQL migrations compiled into the binary. Migrations use a
// flat numeric naming scheme (001_init.sql, 002_...) and are applied in
// lexical order by the store's migration runner.
//
//go:embed *.sql
var Files embed.FS
