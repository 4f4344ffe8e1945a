// Package domain defines the core data model and error taxonomy for the
// docpilot pipelines. It acts as the validation gate at pipeline entry points.
package domain

// DefaultEmbeddingDim is the vector dimension produced by the default
// embedding model (text-embedding-3-small). The vector index collection must
// be configured with the same dimension.
const DefaultEmbeddingDim = 1536

// ExcerptLimit bounds the text excerpt stored in segment metadata, in runes.
const ExcerptLimit = 500

// Document is a logically distinct uploaded unit. Raw bytes are transient
// and never retained past extraction; the vector index owns all persistent
// state derived from a document.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Segment is a bounded span of a document's text, the atomic unit of
// embedding and retrieval. Its ID is derived deterministically from the
// owning document ID and the ordinal, so re-ingestion replaces prior
// segments instead of accumulating next to them.
type Segment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// Query is an ephemeral user question. It is never persisted.
type Query struct {
	Text      string
	Embedding []float32
}

// Excerpt truncates s to ExcerptLimit runes for storage in segment metadata.
func Excerpt(s string) string {
	r := []rune(s)
	if len(r) <= ExcerptLimit {
		return s
	}
	return string(r[:ExcerptLimit])
}
