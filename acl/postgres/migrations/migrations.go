// Package migrations embeds the SQL files that bring a fresh database up to
// the five-table schema acl/postgres and acl/provider expect (spec §6).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
