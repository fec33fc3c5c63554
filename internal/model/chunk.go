package model

// TextChunk is one bounded segment of a document produced by the splitter.
// Offsets are rune positions in the normalized source text.
type TextChunk struct {
	Content     string                 `json:"content"`
	ChunkIndex  int                    `json:"chunk_index"`
	StartOffset int                    `json:"start_offset"`
	EndOffset   int                    `json:"end_offset"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// IndexedChunk is the unit stored in a vector index.
type IndexedChunk struct {
	ID       string                 `json:"id"`
	Vector   []float32              `json:"vector"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type RetrievalMatch struct {
	Content      string                 `json:"content"`
	DocumentID   int64                  `json:"document_id"`
	DocumentName string                 `json:"document_name"`
	ChunkIndex   int                    `json:"chunk_index"`
	Score        float64                `json:"score"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Metadata keys written at ingestion time and read back by retrieval.
const (
	MetaDocumentID = "document_id"
	MetaGroupID    = "group_id"
	MetaFilename   = "filename"
	MetaFileType   = "file_type"
	MetaChunkIndex = "chunk_index"
)
