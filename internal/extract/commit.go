package extract

import (
	"log/slog"

	"github.com/planwell/plangraph/internal/storage"
)

// Commit upserts extracted entities first, then maps the canonical-keyed
// edges onto the assigned ids and upserts them. Entities must land before
// any edge that references them. Returns the number of changed entities
// and relationships.
func Commit(store *storage.Store, logger *slog.Logger, result *Result) (int, int, error) {
	changed, err := store.BulkUpsertEntities(result.Entities)
	if err != nil {
		return 0, 0, err
	}

	ids := make(map[Ref]int64, len(result.Entities))
	for _, e := range result.Entities {
		ids[Ref{Type: e.Type, CanonicalID: e.CanonicalID}] = e.ID
	}

	var rels []*storage.Relationship
	for _, edge := range result.Edges {
		srcID, srcOK := ids[edge.Source]
		dstID, dstOK := ids[edge.Target]
		if !srcOK || !dstOK {
			// Edge to an entity outside this extraction (e.g. a plan
			// dependency). Resolve it from the store; skip if absent.
			var missing Ref
			if !srcOK {
				missing = edge.Source
			} else {
				missing = edge.Target
			}
			resolved, err := store.GetEntity(missing.CanonicalID, missing.Type)
			if err != nil {
				logger.Debug("Skipping edge to unknown entity",
					"type", string(missing.Type), "canonicalId", missing.CanonicalID)
				continue
			}
			if !srcOK {
				srcID = resolved.ID
			} else {
				dstID = resolved.ID
			}
		}
		rels = append(rels, &storage.Relationship{
			SourceID:   srcID,
			TargetID:   dstID,
			Type:       edge.Type,
			Confidence: 1,
		})
	}

	relChanged, err := store.BulkUpsertRelationships(rels)
	if err != nil {
		return 0, 0, err
	}
	return changed, relChanged, nil
}
