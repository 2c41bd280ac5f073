// Package migrations embeds the goose SQL migration files applied to the
// local durable store at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
