package storage

import (
	"time"
)

// EntityType classifies a node in the planning graph.
type EntityType string

const (
	EntityPlan    EntityType = "plan"
	EntityAgent   EntityType = "agent"
	EntityFeature EntityType = "feature"
	EntityFile    EntityType = "file"
	EntityTag     EntityType = "tag"
	EntityConcept EntityType = "concept"
)

// String returns the string representation of the entity type.
func (t EntityType) String() string {
	return string(t)
}

// IsValid checks if the EntityType is a valid value.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPlan, EntityAgent, EntityFeature, EntityFile, EntityTag, EntityConcept:
		return true
	default:
		return false
	}
}

// EntityTypes lists every valid entity type.
func EntityTypes() []EntityType {
	return []EntityType{EntityPlan, EntityAgent, EntityFeature, EntityFile, EntityTag, EntityConcept}
}

// RelationType classifies an edge between two entities.
type RelationType string

const (
	RelationContains   RelationType = "CONTAINS"
	RelationDependsOn  RelationType = "DEPENDS_ON"
	RelationModifies   RelationType = "MODIFIES"
	RelationImplements RelationType = "IMPLEMENTS"
	RelationSimilarTo  RelationType = "SIMILAR_TO"
	RelationBlocks     RelationType = "BLOCKS"
	RelationTaggedWith RelationType = "TAGGED_WITH"
)

// String returns the string representation of the relation type.
func (t RelationType) String() string {
	return string(t)
}

// IsValid checks if the RelationType is a valid value.
func (t RelationType) IsValid() bool {
	switch t {
	case RelationContains, RelationDependsOn, RelationModifies, RelationImplements,
		RelationSimilarTo, RelationBlocks, RelationTaggedWith:
		return true
	default:
		return false
	}
}

// Entity is a node in the planning graph. The (Type, CanonicalID) pair is
// unique; ID is the internal numeric key assigned by the store.
type Entity struct {
	ID          int64                  `json:"id"`
	Type        EntityType             `json:"type"`
	CanonicalID string                 `json:"canonicalId"`
	Name        string                 `json:"name"`
	SourcePath  string                 `json:"sourcePath,omitempty"`
	ContentHash string                 `json:"contentHash,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// MetaString returns a string metadata value, or "" when absent.
func (e *Entity) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata value, false when absent.
func (e *Entity) MetaBool(key string) bool {
	if e.Metadata == nil {
		return false
	}
	if v, ok := e.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// Relationship is a directed edge between two entities. The
// (SourceID, TargetID, Type) triple is unique; upserts replace rather than
// duplicate.
type Relationship struct {
	ID         int64                  `json:"id"`
	SourceID   int64                  `json:"sourceId"`
	TargetID   int64                  `json:"targetId"`
	Type       RelationType           `json:"relationType"`
	Confidence float64                `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// Direction selects which relationships of an entity to load.
type Direction string

const (
	DirIncoming Direction = "incoming"
	DirOutgoing Direction = "outgoing"
	DirBoth     Direction = "both"
)

// SearchResult is one ranked hit from the lexical index.
type SearchResult struct {
	Entity    Entity  `json:"entity"`
	Score     float64 `json:"score"`
	MatchType string  `json:"matchType"` // "match", "prefix", "substring"
}
