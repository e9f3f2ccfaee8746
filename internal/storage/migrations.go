package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Schema files are named NNN_description.sql. The highest applied number is
// kept in the database header (PRAGMA user_version), so no bookkeeping table
// shares the file with user data.
type schemaStep struct {
	version int
	name    string
	sql     string
}

func schemaSteps() ([]schemaStep, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema files: %w", err)
	}

	var steps []schemaStep
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("schema file %s: name must start with a positive number", name)
		}
		body, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("schema file %s: %w", name, err)
		}
		steps = append(steps, schemaStep{version: v, name: name, sql: string(body)})
	}

	slices.SortFunc(steps, func(a, b schemaStep) int { return a.version - b.version })
	for i := 1; i < len(steps); i++ {
		if steps[i].version == steps[i-1].version {
			return nil, fmt.Errorf("schema files %s and %s share version %d", steps[i-1].name, steps[i].name, steps[i].version)
		}
	}
	return steps, nil
}

// SchemaVersion reports the highest schema step applied to the file.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	err := db.conn.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

// Migrate brings the schema up to date and returns the files it applied.
// A file written by a newer build is refused.
func (db *DB) Migrate() ([]string, error) {
	steps, err := schemaSteps()
	if err != nil {
		return nil, err
	}
	current, err := db.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if n := len(steps); n > 0 && current > steps[n-1].version {
		return nil, fmt.Errorf("schema version %d is newer than this build (%d)", current, steps[n-1].version)
	}

	var ran []string
	for _, step := range steps {
		if step.version <= current {
			continue
		}
		err := db.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(step.sql); err != nil {
				return err
			}
			// PRAGMA takes no bound parameters.
			_, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(step.version))
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("schema %s: %w", step.name, err)
		}
		ran = append(ran, step.name)
	}
	return ran, nil
}
