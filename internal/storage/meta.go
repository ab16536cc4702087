package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// ComputeContentHash returns the sha256 hex digest of file content, used to
// gate redundant re-extraction.
func ComputeContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HasChanged reports whether the path is unseen or its stored hash differs
// from newHash.
func (s *Store) HasChanged(path, newHash string) (bool, error) {
	var stored string
	err := s.db.conn.QueryRow("SELECT value FROM engine_meta WHERE key = ?", hashKey(path)).Scan(&stored)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return stored != newHash, nil
}

// MarkSeen records the content hash for a path after a successful
// extraction, and bumps the last-indexed timestamp.
func (s *Store) MarkSeen(path, hash string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if err := setMeta(tx, hashKey(path), hash); err != nil {
			return err
		}
		return setMeta(tx, "last_indexed_at", time.Now().UTC().Format(time.RFC3339))
	})
}

// LastIndexedAt returns the timestamp of the most recent extraction pass,
// or the zero time if nothing has been indexed.
func (s *Store) LastIndexedAt() (time.Time, error) {
	var raw string
	err := s.db.conn.QueryRow("SELECT value FROM engine_meta WHERE key = 'last_indexed_at'").Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func setMeta(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO engine_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func hashKey(path string) string {
	return "hash:" + path
}
