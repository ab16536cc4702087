package storage

import (
	pgerrors "github.com/planwell/plangraph/internal/errors"
)

// GetNeighbors returns the entities directly connected to the given entity,
// in either direction. An empty relType matches any relation type.
func (s *Store) GetNeighbors(id int64, relType RelationType) ([]*Entity, error) {
	if relType != "" && !relType.IsValid() {
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid relation type %q", relType)
	}

	query := `
		SELECT DISTINCT ` + entityColumnsAliased("e") + `
		FROM entities e
		JOIN relationships r ON (r.target_id = e.id AND r.source_id = ?)
		                     OR (r.source_id = e.id AND r.target_id = ?)
	`
	args := []interface{}{id, id}
	if relType != "" {
		query += " WHERE r.relation_type = ?"
		args = append(args, relType)
	}
	query += " ORDER BY e.canonical_id"

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetRelationships returns the relationships attached to an entity,
// filtered by direction.
func (s *Store) GetRelationships(id int64, dir Direction) ([]Relationship, error) {
	var query string
	var args []interface{}

	switch dir {
	case DirIncoming:
		query = "SELECT " + relationshipColumns + " FROM relationships WHERE target_id = ? ORDER BY id"
		args = []interface{}{id}
	case DirOutgoing:
		query = "SELECT " + relationshipColumns + " FROM relationships WHERE source_id = ? ORDER BY id"
		args = []interface{}{id}
	case DirBoth, "":
		query = "SELECT " + relationshipColumns + " FROM relationships WHERE source_id = ? OR target_id = ? ORDER BY id"
		args = []interface{}{id, id}
	default:
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "invalid direction %q", dir)
	}

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRelationships(rows)
}

// GetPath enumerates simple paths (no repeated entities) from one entity to
// another, following edges in either direction, up to maxDepth hops and
// maxPaths results. Returns nil when no path exists within the bound.
// maxPaths <= 0 means one path.
func (s *Store) GetPath(fromID, toID int64, maxDepth, maxPaths int) ([][]Entity, error) {
	if maxDepth <= 0 {
		return nil, pgerrors.Newf(pgerrors.ConfigInvalid, "maxDepth %d must be positive", maxDepth)
	}
	if maxPaths <= 0 {
		maxPaths = 1
	}

	adj, err := s.loadAdjacency()
	if err != nil {
		return nil, err
	}

	var paths [][]int64
	visited := map[int64]bool{fromID: true}
	stack := []int64{fromID}

	var dfs func(current int64, depth int)
	dfs = func(current int64, depth int) {
		if len(paths) >= maxPaths {
			return
		}
		if current == toID {
			path := make([]int64, len(stack))
			copy(path, stack)
			paths = append(paths, path)
			return
		}
		if depth >= maxDepth {
			return
		}
		for _, next := range adj[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			stack = append(stack, next)
			dfs(next, depth+1)
			stack = stack[:len(stack)-1]
			visited[next] = false
			if len(paths) >= maxPaths {
				return
			}
		}
	}
	dfs(fromID, 0)

	if len(paths) == 0 {
		return nil, nil
	}

	result := make([][]Entity, 0, len(paths))
	for _, idPath := range paths {
		entities := make([]Entity, 0, len(idPath))
		for _, id := range idPath {
			e, err := s.GetEntityByID(id)
			if err != nil {
				return nil, err
			}
			entities = append(entities, *e)
		}
		result = append(result, entities)
	}
	return result, nil
}

// loadAdjacency builds an undirected adjacency list over all relationships.
// Neighbor lists are ordered by edge insertion so traversal is deterministic.
func (s *Store) loadAdjacency() (map[int64][]int64, error) {
	rows, err := s.db.conn.Query("SELECT source_id, target_id FROM relationships ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adj := make(map[int64][]int64)
	for rows.Next() {
		var src, dst int64
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		adj[src] = append(adj[src], dst)
		adj[dst] = append(adj[dst], src)
	}
	return adj, rows.Err()
}

// entityColumnsAliased prefixes each entity column with a table alias.
func entityColumnsAliased(alias string) string {
	return alias + ".id, " + alias + ".type, " + alias + ".canonical_id, " + alias + ".name, " +
		alias + ".source_path, " + alias + ".content_hash, " + alias + ".metadata, " +
		alias + ".created_at, " + alias + ".updated_at"
}
