// Package migrations embeds the SQL migration files into the binary, so
// a node can create and upgrade its schema without shipping loose files
// alongside the executable.
package migrations

import (
	"embed"

	"github.com/kaiser-home/nodecore/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package. The embed
	// directive above captures all .sql files in this directory.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
