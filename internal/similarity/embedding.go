package similarity

import (
	"encoding/binary"
	"math"
)

// Match is one ranked hit from an embedding nearest-neighbor lookup.
type Match struct {
	CanonicalID string
	Score       float64
}

// EmbeddingStore is an injected capability. Every field is optional; a nil
// field means the capability is absent and scoring degrades to zero for
// the semantic signal. A nil *EmbeddingStore behaves like an empty one.
type EmbeddingStore struct {
	// Get returns the stored vector for a canonical id, or nil.
	Get func(canonicalID string) []float64
	// Embed computes a vector for free text.
	Embed func(text string) ([]float64, error)
	// FindSimilar returns ranked canonical ids nearest to the vector.
	FindSimilar func(vector []float64, limit int) ([]Match, error)
}

// Vector looks up a stored embedding, tolerating a nil store or a nil Get.
func (e *EmbeddingStore) Vector(canonicalID string) []float64 {
	if e == nil || e.Get == nil {
		return nil
	}
	return e.Get(canonicalID)
}

// EmbedText computes a vector for text, or nil when the capability is absent.
func (e *EmbeddingStore) EmbedText(text string) ([]float64, error) {
	if e == nil || e.Embed == nil {
		return nil, nil
	}
	return e.Embed(text)
}

// Nearest runs a ranked nearest-neighbor lookup, or returns nil when the
// capability is absent.
func (e *EmbeddingStore) Nearest(vector []float64, limit int) ([]Match, error) {
	if e == nil || e.FindSimilar == nil || len(vector) == 0 {
		return nil, nil
	}
	return e.FindSimilar(vector, limit)
}

// VectorToBlob serializes a vector as little-endian float64s for callers
// that persist embeddings.
func VectorToBlob(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// BlobToVector deserializes a little-endian float64 blob.
func BlobToVector(blob []byte) []float64 {
	n := len(blob) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vec
}
