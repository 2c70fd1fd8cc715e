// Package migrate applies the embedded guardline schema, tracking the
// applied version in a schema_version table inside the same database.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

const (
	schemaDir          = "sql"
	schemaVersionTable = "schema_version"
)

type migration struct {
	version int
	name    string
	up      string
}

func loadMigrations() ([]migration, error) {
	files, err := fs.ReadDir(schemaFS, schemaDir)
	if err != nil {
		return nil, err
	}
	var migrations []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := schemaFS.ReadFile(schemaDir + "/" + f.Name())
		if err != nil {
			return nil, err
		}
		// filenames are NNN_description.sql, ordered by the numeric prefix
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, migration{version: v, name: f.Name(), up: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

func currentVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ` + schemaVersionTable + `(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create %s: %w", schemaVersionTable, err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM ` + schemaVersionTable + ` LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO ` + schemaVersionTable + `(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init %s: %w", schemaVersionTable, err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", schemaVersionTable, err)
	}
	return v, nil
}

// Migrate brings the database up to the newest embedded schema version. All
// pending migrations apply in one transaction.
func Migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	version, err := currentVersion(tx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := tx.Exec(m.up); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`UPDATE `+schemaVersionTable+` SET version=?`, m.version); err != nil {
			return fmt.Errorf("update %s: %w", schemaVersionTable, err)
		}
		version = m.version
	}
	return tx.Commit()
}
