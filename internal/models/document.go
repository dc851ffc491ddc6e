package models

// Page is one logical page, slide or sheet of an extracted document.
type Page struct {
	Text   string `json:"text"`
	Page   int    `json:"page"`
	Source string `json:"source"`
}

// Chunk represents an overlapping window of a page's tokens
type Chunk struct {
	Text   string `json:"text"`
	Page   int    `json:"page"`
	Source string `json:"source"`
}

// Record is a chunk as persisted in the vector store. Every record written by
// one ingest shares the same FileGroupID.
type Record struct {
	ID          string    `json:"id"`
	FileGroupID string    `json:"file_group_id"`
	Vector      []float32 `json:"-"`
	Text        string    `json:"text"`
	Page        int       `json:"page"`
	SourceName  string    `json:"source_name"`
}

// SearchResult is a stored chunk with its cosine similarity to the query,
// in [-1, 1], higher is more relevant.
type SearchResult struct {
	Chunk
	FileGroupID string  `json:"file_group_id"`
	Score       float32 `json:"relevance_score"`
}

// Source is one entry of the distinct source listing.
type Source struct {
	FileGroupID string `json:"file_id"`
	SourceName  string `json:"file_name"`
}

type IngestStatus string

const (
	StatusUploaded IngestStatus = "uploaded"
	StatusSkipped  IngestStatus = "skipped"
	StatusError    IngestStatus = "error"
)

type IngestResult struct {
	SourceName  string       `json:"source_name"`
	Status      IngestStatus `json:"status"`
	FileGroupID string       `json:"file_id,omitempty"`
	Chunks      int          `json:"chunks,omitempty"`
	Error       string       `json:"error,omitempty"`
}
