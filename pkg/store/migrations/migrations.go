// Package migrations embeds the SQL migrations applied on top of the
// GORM-managed schema. They install database objects GORM cannot express,
// such as the change notification triggers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
