// Package migrations embeds the goose SQL migration files so the server
// binary can migrate its schema without the files present on disk.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
