package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// SearchEntities performs ranked lexical search over entity names, canonical
// ids, and metadata. Three tiers run in order until the limit is filled:
// FTS5 match, FTS5 prefix match, and a LIKE substring fallback.
func (s *Store) SearchEntities(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var results []SearchResult
	seen := make(map[int64]bool)

	appendNew := func(batch []SearchResult) {
		for _, r := range batch {
			if !seen[r.Entity.ID] {
				seen[r.Entity.ID] = true
				results = append(results, r)
			}
		}
	}

	matched, err := s.searchMatch(query, limit)
	if err == nil {
		appendNew(matched)
	}

	if len(results) < limit {
		prefixed, err := s.searchPrefix(query, limit-len(results))
		if err == nil {
			appendNew(prefixed)
		}
	}

	if len(results) < limit {
		liked, err := s.searchLike(query, limit-len(results))
		if err == nil {
			appendNew(liked)
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchMatch performs an FTS5 terms query ranked by bm25.
func (s *Store) searchMatch(query string, limit int) ([]SearchResult, error) {
	ftsQuery := buildFTSQuery(query, false)
	if ftsQuery == "" {
		return nil, nil
	}
	return s.runFTS(ftsQuery, limit, "match", 1.0)
}

// searchPrefix performs an FTS5 prefix query.
func (s *Store) searchPrefix(query string, limit int) ([]SearchResult, error) {
	ftsQuery := buildFTSQuery(query, true)
	if ftsQuery == "" {
		return nil, nil
	}
	return s.runFTS(ftsQuery, limit, "prefix", 0.8)
}

func (s *Store) runFTS(ftsQuery string, limit int, matchType string, score float64) ([]SearchResult, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+entityColumnsAliased("e")+`
		FROM entity_fts f
		JOIN entities e ON f.rowid = e.id
		WHERE entity_fts MATCH ?
		ORDER BY bm25(entity_fts, 1.0, 0.8, 0.3), e.canonical_id
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectResults(rows, matchType, score)
}

// searchLike performs fallback LIKE search for substring matches.
func (s *Store) searchLike(query string, limit int) ([]SearchResult, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.conn.Query(`
		SELECT `+entityColumnsAliased("e")+`
		FROM entities e
		WHERE e.name LIKE ? OR e.canonical_id LIKE ?
		ORDER BY e.canonical_id
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectResults(rows, "substring", 0.5)
}

func collectResults(rows *sql.Rows, matchType string, score float64) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			Entity:    *e,
			Score:     score,
			MatchType: matchType,
		})
	}
	return results, rows.Err()
}

// buildFTSQuery turns free text into a safe FTS5 query: each term becomes a
// quoted token, optionally with a prefix wildcard, joined implicitly (AND).
func buildFTSQuery(query string, prefix bool) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		if prefix {
			quoted = append(quoted, fmt.Sprintf(`"%s"*`, t))
		} else {
			quoted = append(quoted, fmt.Sprintf(`"%s"`, t))
		}
	}
	return strings.Join(quoted, " ")
}
