package ingest

import "github.com/docpilot-ai/docpilot/engine/domain"

// RawDocument is the pipeline input: the transient uploaded bytes plus the
// identity they will be indexed under. Replace marks the update path, which
// deletes the document's existing segments before inserting the new ones.
type RawDocument struct {
	DocumentID string
	Title      string
	Data       []byte
	Replace    bool
}

// Doc returns the document identity being ingested.
func (r RawDocument) Doc() domain.Document {
	return domain.Document{ID: r.DocumentID, Title: r.Title}
}

// ExtractedDoc is a document after text extraction. Raw bytes are dropped
// here and never retained.
type ExtractedDoc struct {
	DocumentID string
	Title      string
	Text       string
	Replace    bool
}

// ChunkedDoc is an extracted document split into ordered segments.
type ChunkedDoc struct {
	ExtractedDoc
	Segments []domain.Segment
}

// EmbeddedDoc is a chunked document whose segments carry embeddings.
type EmbeddedDoc struct {
	ChunkedDoc
}
