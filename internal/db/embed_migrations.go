package db

import "embed"

// MigrationFS holds the call_events schema. cmd/api applies it on start when
// DB_MIGRATE is set.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
