package postgres

import (
	"embed"
	"io/fs"
)

// MigrationLockID serialises inventory-service migrations across replicas.
const MigrationLockID int64 = 731400001

//go:embed migrations/*.sql
var migrationFiles embed.FS

func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
