package postgres

import (
	"embed"
	"io/fs"
)

// MigrationLockID serialises order-service migrations across replicas.
const MigrationLockID int64 = 731400002

//go:embed migrations/*.sql
var migrationFiles embed.FS

func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
