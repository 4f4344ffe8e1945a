package semantic

// SearchResult is a single ranked hit from the vector index. Results carry
// segment metadata only; raw vectors are not requested back.
type SearchResult struct {
	SegmentID  string  `json:"segment_id"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Ordinal    int     `json:"ordinal"`
}

// Record is a single vector to store in the index.
type Record struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // text, document_id, title, ordinal
}
