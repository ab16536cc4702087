package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createEntitiesTable(tx); err != nil {
			return err
		}
		if err := createRelationshipsTable(tx); err != nil {
			return err
		}
		if err := createEntityFTS(tx); err != nil {
			return err
		}
		if err := createEngineMetaTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		return nil
	}

	db.logger.Info("Running database migrations",
		"fromVersion", version, "toVersion", currentSchemaVersion)

	// Migrations run sequentially; add steps here as the schema evolves.
	return nil
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func (db *DB) getSchemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func createEntitiesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			canonical_id TEXT NOT NULL,
			name TEXT NOT NULL,
			source_path TEXT,
			content_hash TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(type, canonical_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entities table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type)",
		"CREATE INDEX IF NOT EXISTS idx_entities_canonical ON entities(canonical_id)",
		"CREATE INDEX IF NOT EXISTS idx_entities_source ON entities(source_path)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func createRelationshipsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS relationships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			target_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			metadata TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(source_id, target_id, relation_type)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create relationships table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relation_type)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// createEntityFTS creates the FTS5 virtual table over entities plus the
// insert/update/delete triggers that keep it synchronized with entity writes.
func createEntityFTS(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entity_fts USING fts5(
			name,
			canonical_id,
			metadata,
			content='entities',
			content_rowid='id'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entity_fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS entities_fts_ai AFTER INSERT ON entities BEGIN
			INSERT INTO entity_fts(rowid, name, canonical_id, metadata)
			VALUES (new.id, new.name, new.canonical_id, new.metadata);
		END`,

		`CREATE TRIGGER IF NOT EXISTS entities_fts_au AFTER UPDATE ON entities BEGIN
			INSERT INTO entity_fts(entity_fts, rowid, name, canonical_id, metadata)
			VALUES ('delete', old.id, old.name, old.canonical_id, old.metadata);
			INSERT INTO entity_fts(rowid, name, canonical_id, metadata)
			VALUES (new.id, new.name, new.canonical_id, new.metadata);
		END`,

		`CREATE TRIGGER IF NOT EXISTS entities_fts_ad AFTER DELETE ON entities BEGIN
			INSERT INTO entity_fts(entity_fts, rowid, name, canonical_id, metadata)
			VALUES ('delete', old.id, old.name, old.canonical_id, old.metadata);
		END`,
	}

	for _, trigger := range triggers {
		if _, err := tx.Exec(trigger); err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}
	return nil
}

// createEngineMetaTable creates a small key-value table for engine
// bookkeeping: per-path content hashes, last-indexed timestamp.
func createEngineMetaTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS engine_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create engine_meta table: %w", err)
	}
	return nil
}
