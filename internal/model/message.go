package model

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn in the uniform role model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationResult struct {
	Content               string                 `json:"content"`
	Model                 string                 `json:"model"`
	PromptTokens          *int                   `json:"prompt_tokens,omitempty"`
	CompletionTokens      *int                   `json:"completion_tokens,omitempty"`
	TotalTokens           *int                   `json:"total_tokens,omitempty"`
	GenerationTimeSeconds *float64               `json:"generation_time,omitempty"`
	FinishReason          string                 `json:"finish_reason"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}

type Source struct {
	DocumentID   int64   `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

type RAGResult struct {
	Answer                string                 `json:"answer"`
	Sources               []Source               `json:"sources"`
	Model                 string                 `json:"model"`
	Confidence            float64                `json:"confidence"`
	GenerationTimeSeconds *float64               `json:"generation_time,omitempty"`
	RetrievalCount        int                    `json:"retrieval_count"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}
