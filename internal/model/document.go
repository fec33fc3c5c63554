package model

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is the subset of the document record the ingestion pipeline needs.
type Document struct {
	ID               int64          `json:"id"`
	GroupID          int64          `json:"group_id"`
	OriginalFilename string         `json:"original_filename"`
	FileKey          string         `json:"file_key"`
	FileType         string         `json:"file_type"`
	FileSize         int64          `json:"file_size"`
	Status           DocumentStatus `json:"processing_status"`
	ChunkCount       int            `json:"chunk_count"`
	ErrorMessage     string         `json:"error_message"`
	Ctime            int64          `json:"ctime"`
	Mtime            int64          `json:"mtime"`
}

type ProcessResult struct {
	Success    bool   `json:"success"`
	DocumentID int64  `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}
