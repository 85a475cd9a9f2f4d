// Package migrations embeds the numbered Postgres schema files applied by
// the migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
