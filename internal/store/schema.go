package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the tables behind SQLiteEntityStore.
const schema = `
-- AUTOINCREMENT keeps removed IDs from ever being handed out again
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_epoch INTEGER NOT NULL,
    modified_epoch INTEGER NOT NULL DEFAULT 0
);

-- rowid order is first-insertion order; upserts keep the rowid
CREATE TABLE IF NOT EXISTS attributes (
    entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    value INTEGER NOT NULL,
    PRIMARY KEY (entity_id, name)
);

-- Forward index is the primary key, reverse index is idx_relations_parent
CREATE TABLE IF NOT EXISTS relations (
    rel TEXT NOT NULL,
    child INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    parent INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (rel, child, parent)
);
CREATE INDEX IF NOT EXISTS idx_relations_parent ON relations(rel, parent);

-- seq preserves removal order within an epoch
CREATE TABLE IF NOT EXISTS tombstones (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id INTEGER NOT NULL UNIQUE,
    name TEXT NOT NULL,
    attributes TEXT,  -- JSON array of {name, value}
    created_epoch INTEGER NOT NULL,
    modified_epoch INTEGER NOT NULL,
    removed_epoch INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS store_meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
INSERT OR IGNORE INTO store_meta (key, value) VALUES ('epoch', 1);
`

// createSchema creates the tables of a fresh database in one transaction.
// Stores never reopen a database, so there is nothing to migrate.
func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return tx.Commit()
}

// integrityIssues runs SQLite's page-level and foreign key checks and returns
// one line per problem found.
func integrityIssues(ctx context.Context, q queryer) ([]string, error) {
	var issues []string

	rows, err := q.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return nil, fmt.Errorf("failed to run integrity_check: %w", err)
	}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan integrity_check: %w", err)
		}
		if line != "ok" {
			issues = append(issues, line)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, fmt.Errorf("failed to scan foreign_key_check: %w", err)
		}
		issues = append(issues, fmt.Sprintf("%s row %d references a missing %s row", table, rowid.Int64, parent))
	}
	return issues, rows.Err()
}
