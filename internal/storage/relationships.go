package storage

import (
	"database/sql"
	"fmt"
	"time"

	pgerrors "github.com/planwell/plangraph/internal/errors"
)

const relationshipColumns = "id, source_id, target_id, relation_type, confidence, metadata, created_at"

// UpsertRelationship inserts or updates a relationship by its
// (sourceId, targetId, relationType) key and returns the stored row.
// A reference to a nonexistent entity fails the whole operation.
// Confidence is stored as given, zero included; writers asserting an
// extracted fact set it to 1.
func (s *Store) UpsertRelationship(r *Relationship) (*Relationship, error) {
	var stored *Relationship
	err := s.db.WithTx(func(tx *sql.Tx) error {
		var err error
		stored, err = upsertRelationshipTx(tx, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// upsertRelationshipTx performs the upsert inside an existing transaction.
func upsertRelationshipTx(tx *sql.Tx, r *Relationship) (*Relationship, error) {
	if !r.Type.IsValid() {
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid relation type %q", r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "confidence %v outside [0,1]", r.Confidence)
	}
	if err := checkEntityExists(tx, r.SourceID); err != nil {
		return nil, err
	}
	if err := checkEntityExists(tx, r.TargetID); err != nil {
		return nil, err
	}

	meta, err := marshalMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = tx.Exec(`
		INSERT INTO relationships (source_id, target_id, relation_type, confidence, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET
			confidence = excluded.confidence,
			metadata = excluded.metadata
	`, r.SourceID, r.TargetID, r.Type, r.Confidence, meta, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert relationship %d-[%s]->%d: %w", r.SourceID, r.Type, r.TargetID, err)
	}

	row := tx.QueryRow(
		"SELECT "+relationshipColumns+" FROM relationships WHERE source_id = ? AND target_id = ? AND relation_type = ?",
		r.SourceID, r.TargetID, r.Type,
	)
	return scanRelationship(row)
}

// BulkUpsertRelationships upserts a batch of relationships in a single
// transaction, returning the number of rows actually changed. A dangling
// entity reference aborts the entire batch; nothing is partially committed.
func (s *Store) BulkUpsertRelationships(rels []*Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}

	changed := 0
	err := s.db.WithTx(func(tx *sql.Tx) error {
		for _, r := range rels {
			existing, err := getRelationshipTx(tx, r.SourceID, r.TargetID, r.Type)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if existing != nil && relationshipUnchanged(existing, r) {
				r.ID = existing.ID
				r.CreatedAt = existing.CreatedAt
				continue
			}

			stored, err := upsertRelationshipTx(tx, r)
			if err != nil {
				return err
			}
			r.ID = stored.ID
			r.CreatedAt = stored.CreatedAt
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// RegenerateSimilarEdges replaces all SIMILAR_TO edges between entities of
// one type with a fresh set, in a single transaction. The resolver calls
// this once per resolution pass so below-threshold pairs do not leave stale
// edges behind.
func (s *Store) RegenerateSimilarEdges(entityType EntityType, rels []*Relationship) (int, error) {
	if !entityType.IsValid() {
		return 0, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid entity type %q", entityType)
	}

	changed := 0
	err := s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			DELETE FROM relationships
			WHERE relation_type = ?
			  AND source_id IN (SELECT id FROM entities WHERE type = ?)
			  AND target_id IN (SELECT id FROM entities WHERE type = ?)
		`, RelationSimilarTo, entityType, entityType)
		if err != nil {
			return fmt.Errorf("failed to prune similar edges: %w", err)
		}

		for _, r := range rels {
			if r.Type != RelationSimilarTo {
				return pgerrors.Newf(pgerrors.ConfigInvalid, "RegenerateSimilarEdges got a %s edge", r.Type)
			}
			stored, err := upsertRelationshipTx(tx, r)
			if err != nil {
				return err
			}
			r.ID = stored.ID
			r.CreatedAt = stored.CreatedAt
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// checkEntityExists fails with ReferenceInvalid when the entity id is unknown.
func checkEntityExists(tx *sql.Tx, id int64) error {
	var one int
	err := tx.QueryRow("SELECT 1 FROM entities WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return pgerrors.Newf(pgerrors.ReferenceInvalid, "relationship references nonexistent entity %d", id)
	}
	return err
}

// getRelationshipTx loads one relationship by unique key inside a
// transaction. Returns sql.ErrNoRows when absent.
func getRelationshipTx(tx *sql.Tx, sourceID, targetID int64, relType RelationType) (*Relationship, error) {
	row := tx.QueryRow(
		"SELECT "+relationshipColumns+" FROM relationships WHERE source_id = ? AND target_id = ? AND relation_type = ?",
		sourceID, targetID, relType,
	)
	return scanRelationship(row)
}

func relationshipUnchanged(stored, incoming *Relationship) bool {
	if stored.Confidence != incoming.Confidence {
		return false
	}
	a, errA := marshalMetadata(stored.Metadata)
	b, errB := marshalMetadata(incoming.Metadata)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

func scanRelationship(sc rowScanner) (*Relationship, error) {
	var r Relationship
	var meta sql.NullString
	var createdAt string

	err := sc.Scan(
		&r.ID,
		&r.SourceID,
		&r.TargetID,
		&r.Type,
		&r.Confidence,
		&meta,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if meta.Valid && meta.String != "" {
		if err := unmarshalMetadata(meta.String, &r.Metadata); err != nil {
			return nil, err
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}

	return &r, nil
}

func scanRelationships(rows *sql.Rows) ([]Relationship, error) {
	var rels []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, *r)
	}
	return rels, rows.Err()
}
