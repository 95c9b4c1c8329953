package postgres

import (
	"embed"
	"io/fs"
)

// MigrationLockID serialises payment-service migrations across replicas.
const MigrationLockID int64 = 731400003

//go:embed migrations/*.sql
var migrationFiles embed.FS

func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
