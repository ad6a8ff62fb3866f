// Package migrations embeds the registry schema into the binary, one
// directory per SQL dialect.
package migrations

import (
	"embed"

	"github.com/tvcwb/boardbridge/internal/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
