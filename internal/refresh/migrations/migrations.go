// Package migrations embeds the goose SQL migrations for the
// refresh-token schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
