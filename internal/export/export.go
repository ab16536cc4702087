// Package export writes and reads zstd-compressed snapshots of the whole
// graph, as JSON lines: one header record, then one record per entity,
// then one record per relationship. Import replays a snapshot through the
// store's bulk upserts, so it is idempotent and transactional per batch.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/planwell/plangraph/internal/storage"
)

// FormatVersion is bumped on breaking snapshot layout changes.
const FormatVersion = 1

type recordKind string

const (
	kindHeader       recordKind = "header"
	kindEntity       recordKind = "entity"
	kindRelationship recordKind = "relationship"
)

type record struct {
	Kind         recordKind            `json:"kind"`
	Header       *header               `json:"header,omitempty"`
	Entity       *storage.Entity       `json:"entity,omitempty"`
	Relationship *relationshipRecord   `json:"relationship,omitempty"`
}

type header struct {
	FormatVersion int       `json:"formatVersion"`
	ExportedAt    time.Time `json:"exportedAt"`
	Entities      int       `json:"entities"`
	Relationships int       `json:"relationships"`
}

// relationshipRecord keys endpoints by (type, canonical id) instead of
// internal ids, which do not survive a round trip into a different store.
type relationshipRecord struct {
	SourceType      storage.EntityType     `json:"sourceType"`
	SourceCanonical string                 `json:"sourceCanonicalId"`
	TargetType      storage.EntityType     `json:"targetType"`
	TargetCanonical string                 `json:"targetCanonicalId"`
	RelationType    storage.RelationType   `json:"relationType"`
	Confidence      float64                `json:"confidence"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Exporter reads and writes snapshots.
type Exporter struct {
	store  *storage.Store
	logger *slog.Logger
}

// New creates an Exporter.
func New(store *storage.Store, logger *slog.Logger) *Exporter {
	return &Exporter{store: store, logger: logger}
}

// ExportFile writes a snapshot of the whole graph to path.
func (e *Exporter) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := e.Export(f); err != nil {
		return err
	}
	return f.Close()
}

// Export streams a snapshot to w.
func (e *Exporter) Export(w io.Writer) error {
	entities, byID, err := e.allEntities()
	if err != nil {
		return err
	}
	rels, err := e.allRelationships(byID)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)

	if err := enc.Encode(record{Kind: kindHeader, Header: &header{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		Entities:      len(entities),
		Relationships: len(rels),
	}}); err != nil {
		zw.Close()
		return err
	}
	for _, ent := range entities {
		if err := enc.Encode(record{Kind: kindEntity, Entity: ent}); err != nil {
			zw.Close()
			return err
		}
	}
	for _, rel := range rels {
		if err := enc.Encode(record{Kind: kindRelationship, Relationship: rel}); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	e.logger.Info("Snapshot exported", "entities", len(entities), "relationships", len(rels))
	return nil
}

func (e *Exporter) allEntities() ([]*storage.Entity, map[int64]*storage.Entity, error) {
	var all []*storage.Entity
	byID := make(map[int64]*storage.Entity)
	for _, et := range storage.EntityTypes() {
		entities, err := e.store.GetEntitiesByType(et)
		if err != nil {
			return nil, nil, err
		}
		for _, ent := range entities {
			all = append(all, ent)
			byID[ent.ID] = ent
		}
	}
	return all, byID, nil
}

func (e *Exporter) allRelationships(byID map[int64]*storage.Entity) ([]*relationshipRecord, error) {
	var out []*relationshipRecord
	seen := make(map[int64]bool)
	for id, src := range byID {
		rels, err := e.store.GetRelationships(id, storage.DirOutgoing)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			if seen[rel.ID] {
				continue
			}
			seen[rel.ID] = true
			target, ok := byID[rel.TargetID]
			if !ok {
				continue
			}
			out = append(out, &relationshipRecord{
				SourceType:      src.Type,
				SourceCanonical: src.CanonicalID,
				TargetType:      target.Type,
				TargetCanonical: target.CanonicalID,
				RelationType:    rel.Type,
				Confidence:      rel.Confidence,
				Metadata:        rel.Metadata,
			})
		}
	}
	return out, nil
}

// ImportFile replays a snapshot file into the store.
func (e *Exporter) ImportFile(path string) (entities, relationships int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	return e.Import(f)
}

// Import replays a snapshot from r. Entities land before relationships, so
// every edge references a committed row. Returns the changed counts.
func (e *Exporter) Import(r io.Reader) (int, int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, 0, err
	}
	defer zr.Close()

	var entities []*storage.Entity
	var relRecords []*relationshipRecord

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return 0, 0, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		switch rec.Kind {
		case kindHeader:
			if rec.Header == nil {
				return 0, 0, fmt.Errorf("snapshot line %d: header record without payload", line)
			}
			if rec.Header.FormatVersion > FormatVersion {
				return 0, 0, fmt.Errorf("snapshot format v%d is newer than supported v%d",
					rec.Header.FormatVersion, FormatVersion)
			}
		case kindEntity:
			if rec.Entity == nil {
				return 0, 0, fmt.Errorf("snapshot line %d: entity record without payload", line)
			}
			ent := rec.Entity
			ent.ID = 0
			entities = append(entities, ent)
		case kindRelationship:
			if rec.Relationship == nil {
				return 0, 0, fmt.Errorf("snapshot line %d: relationship record without payload", line)
			}
			relRecords = append(relRecords, rec.Relationship)
		default:
			return 0, 0, fmt.Errorf("snapshot line %d: unknown record kind %q", line, rec.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	entChanged, err := e.store.BulkUpsertEntities(entities)
	if err != nil {
		return 0, 0, err
	}

	ids := make(map[string]int64, len(entities))
	for _, ent := range entities {
		ids[string(ent.Type)+"\x00"+ent.CanonicalID] = ent.ID
	}

	var rels []*storage.Relationship
	for _, rr := range relRecords {
		srcID, srcOK := ids[string(rr.SourceType)+"\x00"+rr.SourceCanonical]
		dstID, dstOK := ids[string(rr.TargetType)+"\x00"+rr.TargetCanonical]
		if !srcOK || !dstOK {
			e.logger.Warn("Skipping relationship with unknown endpoint",
				"source", rr.SourceCanonical, "target", rr.TargetCanonical)
			continue
		}
		rels = append(rels, &storage.Relationship{
			SourceID:   srcID,
			TargetID:   dstID,
			Type:       rr.RelationType,
			Confidence: rr.Confidence,
			Metadata:   rr.Metadata,
		})
	}
	relChanged, err := e.store.BulkUpsertRelationships(rels)
	if err != nil {
		return 0, 0, err
	}

	e.logger.Info("Snapshot imported",
		"entities", len(entities), "entitiesChanged", entChanged,
		"relationships", len(rels), "relationshipsChanged", relChanged)
	return entChanged, relChanged, nil
}
