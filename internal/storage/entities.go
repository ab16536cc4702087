package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pgerrors "github.com/planwell/plangraph/internal/errors"
)

// Store exposes the graph operations over a DB connection. All multi-row
// writes are transactional; readers observe pre- or post-transaction state
// only.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore creates a Store over an open database.
func NewStore(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB returns the underlying database handle.
func (s *Store) DB() *DB {
	return s.db
}

const entityColumns = "id, type, canonical_id, name, source_path, content_hash, metadata, created_at, updated_at"

// UpsertEntity inserts or updates an entity by its (type, canonicalId) key
// and returns the full stored row with its assigned id.
func (s *Store) UpsertEntity(e *Entity) (*Entity, error) {
	if !e.Type.IsValid() {
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid entity type %q", e.Type)
	}
	if e.CanonicalID == "" {
		return nil, pgerrors.New(pgerrors.ConfigInvalid, "entity canonical id is required")
	}

	var stored *Entity
	err := s.db.WithTx(func(tx *sql.Tx) error {
		var err error
		stored, err = upsertEntityTx(tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// upsertEntityTx performs the upsert inside an existing transaction.
func upsertEntityTx(tx *sql.Tx, e *Entity) (*Entity, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO entities (type, canonical_id, name, source_path, content_hash, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, canonical_id) DO UPDATE SET
			name = excluded.name,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, e.Type, e.CanonicalID, e.Name, nullString(e.SourcePath), nullString(e.ContentHash), meta, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert entity %s/%s: %w", e.Type, e.CanonicalID, err)
	}

	row := tx.QueryRow(
		"SELECT "+entityColumns+" FROM entities WHERE type = ? AND canonical_id = ?",
		e.Type, e.CanonicalID,
	)
	return scanEntityRow(row)
}

// GetEntity retrieves an entity by canonical id. An empty entityType matches
// any type; if several types share the canonical id the first by type order
// is returned. Returns an EntityNotFound error when no row matches.
func (s *Store) GetEntity(canonicalID string, entityType EntityType) (*Entity, error) {
	var row *sql.Row
	if entityType != "" {
		if !entityType.IsValid() {
			return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid entity type %q", entityType)
		}
		row = s.db.conn.QueryRow(
			"SELECT "+entityColumns+" FROM entities WHERE canonical_id = ? AND type = ?",
			canonicalID, entityType,
		)
	} else {
		row = s.db.conn.QueryRow(
			"SELECT "+entityColumns+" FROM entities WHERE canonical_id = ? ORDER BY type LIMIT 1",
			canonicalID,
		)
	}

	e, err := scanEntityRow(row)
	if err == sql.ErrNoRows {
		return nil, pgerrors.Newf(pgerrors.EntityNotFound, "no entity with canonical id %q", canonicalID)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntityByID retrieves an entity by its internal id.
func (s *Store) GetEntityByID(id int64) (*Entity, error) {
	row := s.db.conn.QueryRow("SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntityRow(row)
	if err == sql.ErrNoRows {
		return nil, pgerrors.Newf(pgerrors.EntityNotFound, "no entity with id %d", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntitiesByType lists all entities of one type, ordered by canonical id.
func (s *Store) GetEntitiesByType(entityType EntityType) ([]*Entity, error) {
	if !entityType.IsValid() {
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid entity type %q", entityType)
	}

	rows, err := s.db.conn.Query(
		"SELECT "+entityColumns+" FROM entities WHERE type = ? ORDER BY canonical_id",
		entityType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntities(rows)
}

// BulkUpsertEntities upserts a batch of entities in a single transaction and
// returns the number of rows actually changed. Writes that would not change
// the stored row are skipped, leaving updated_at untouched. Entity IDs are
// assigned in place.
func (s *Store) BulkUpsertEntities(entities []*Entity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	for _, e := range entities {
		if !e.Type.IsValid() {
			return 0, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid entity type %q", e.Type)
		}
		if e.CanonicalID == "" {
			return 0, pgerrors.New(pgerrors.ConfigInvalid, "entity canonical id is required")
		}
	}

	changed := 0
	err := s.db.WithTx(func(tx *sql.Tx) error {
		for _, e := range entities {
			existing, err := getEntityTx(tx, e.Type, e.CanonicalID)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if existing != nil && entityUnchanged(existing, e) {
				e.ID = existing.ID
				e.CreatedAt = existing.CreatedAt
				e.UpdatedAt = existing.UpdatedAt
				continue
			}

			stored, err := upsertEntityTx(tx, e)
			if err != nil {
				return err
			}
			e.ID = stored.ID
			e.CreatedAt = stored.CreatedAt
			e.UpdatedAt = stored.UpdatedAt
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// DeleteEntitiesBySource removes every entity extracted from the given source
// path. Relationships referencing those entities cascade away, and the
// path's content-hash bookkeeping entry is cleared so a re-created file is
// re-extracted. Returns the number of entities removed.
func (s *Store) DeleteEntitiesBySource(path string) (int, error) {
	deleted := 0
	err := s.db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM entities WHERE source_path = ?", path)
		if err != nil {
			return fmt.Errorf("failed to delete entities for %s: %w", path, err)
		}
		n, _ := res.RowsAffected()
		deleted = int(n)

		_, err = tx.Exec("DELETE FROM engine_meta WHERE key = ?", hashKey(path))
		return err
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("Deleted entities for removed source", "path", path, "count", deleted)
	}
	return deleted, nil
}

// Stats returns store statistics for status reporting.
func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var entities, relationships int
	if err := s.db.conn.QueryRow("SELECT COUNT(*) FROM entities").Scan(&entities); err != nil {
		return nil, err
	}
	if err := s.db.conn.QueryRow("SELECT COUNT(*) FROM relationships").Scan(&relationships); err != nil {
		return nil, err
	}
	stats["entities"] = entities
	stats["relationships"] = relationships

	rows, err := s.db.conn.Query("SELECT type, COUNT(*) FROM entities GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byType := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		byType[t] = n
	}
	stats["entitiesByType"] = byType

	return stats, rows.Err()
}

// getEntityTx loads one entity by unique key inside a transaction.
// Returns sql.ErrNoRows when absent.
func getEntityTx(tx *sql.Tx, entityType EntityType, canonicalID string) (*Entity, error) {
	row := tx.QueryRow(
		"SELECT "+entityColumns+" FROM entities WHERE type = ? AND canonical_id = ?",
		entityType, canonicalID,
	)
	return scanEntityRow(row)
}

// entityUnchanged reports whether an incoming entity matches the stored row
// on every caller-writable field.
func entityUnchanged(stored, incoming *Entity) bool {
	if stored.Name != incoming.Name ||
		stored.SourcePath != incoming.SourcePath ||
		stored.ContentHash != incoming.ContentHash {
		return false
	}
	a, errA := marshalMetadata(stored.Metadata)
	b, errB := marshalMetadata(incoming.Metadata)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(sc rowScanner) (*Entity, error) {
	var e Entity
	var sourcePath, contentHash, meta sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(
		&e.ID,
		&e.Type,
		&e.CanonicalID,
		&e.Name,
		&sourcePath,
		&contentHash,
		&meta,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.SourcePath = sourcePath.String
	e.ContentHash = contentHash.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt entity metadata for %s: %w", e.CanonicalID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		e.UpdatedAt = t
	}

	return &e, nil
}

func scanEntityRow(row *sql.Row) (*Entity, error) {
	return scanEntity(row)
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func marshalMetadata(meta map[string]interface{}) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMetadata(raw string, dst *map[string]interface{}) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("corrupt metadata: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
