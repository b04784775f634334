package conversation

import "time"

// Role describes who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session transcript. The engine holds turns in
// conversation order; the sequence is append-only.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChunkType identifies the kind of a streamed chunk.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkDone  ChunkType = "done"
	ChunkError ChunkType = "error"
)

// Chunk is one frame of a streaming exchange. Text chunks arrive in
// generation order; exactly one terminal chunk (done or error) ends the
// stream. The done chunk carries the reconciled emergency verdict and the
// full reply content.
type Chunk struct {
	Type             ChunkType `json:"type"`
	Content          string    `json:"content"`
	IsEmergency      bool      `json:"is_emergency,omitempty"`
	EmergencyDetails string    `json:"emergency_details,omitempty"`
	EmergencySource  string    `json:"emergency_source,omitempty"`
}

// Metadata is the engine's session-scoped state beyond the transcript.
// EmergencyFlagged only ever transitions false -> true.
type Metadata struct {
	EmergencyFlagged bool    `json:"emergency_flagged"`
	EmergencyDetails string  `json:"emergency_details,omitempty"`
	EmergencySource  string  `json:"emergency_source,omitempty"`
	Notes            string  `json:"notes,omitempty"`
	SummaryCache     string  `json:"summary_cache,omitempty"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Greeting is the result of a non-streaming opening turn.
type Greeting struct {
	Content     string `json:"content"`
	IsEmergency bool   `json:"is_emergency"`
}

// GenerationError wraps a failed language-model call for an operation with
// no partial output to preserve. Callers treat it as fatal for the exchange.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
