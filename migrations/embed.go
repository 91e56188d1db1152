// Package migrations embeds the schema migrations applied by `minutes migrate`
// and, optionally, at server start.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
