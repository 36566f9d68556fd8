package model

import "fmt"

// Chunk is a bounded slice of a document's cleaned text, the unit of
// embedding and retrieval. Index is its deterministic position within the
// document.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// Key is the composite vector id shared with the external store. Re-ingesting
// the same document produces the same keys, so upserts overwrite instead of
// appending duplicates.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s-%d", c.DocumentID, c.Index)
}

// VectorRecord is the externally stored counterpart of a Chunk: composite
// key, embedding, and the metadata envelope the vector store round-trips.
type VectorRecord struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata"`
}

const (
	MetaDocumentID  = "documentId"
	MetaTitle       = "title"
	MetaCourseID    = "courseId"
	MetaCourseTitle = "courseTitle"
	MetaChunkIndex  = "chunkIndex"
	MetaText        = "text"
)

// ScoredRecord is a query hit: a stored record plus its similarity score.
type ScoredRecord struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Citation identifies a retrieved chunk surfaced alongside a generated answer.
type Citation struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
}
