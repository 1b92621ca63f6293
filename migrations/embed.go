// Package migrations embeds the SQL migration files in this directory so
// they ship inside the axiscored binary, exactly as the teacher's
// pkg/database/client.go embeds its own migrations directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
