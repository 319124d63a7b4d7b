// Package migrations embeds the SQL schema files into the binary so the
// daemon can migrate its database without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/projectorctl/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
