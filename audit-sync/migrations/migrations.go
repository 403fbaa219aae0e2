// Package migrations embeds the schema for the audit-sync database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
