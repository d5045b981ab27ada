package providers

import "context"

// Provider is the interface all LLM backends implement.
type Provider interface {
	// Chat sends messages to the backend and returns the full response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the backend's default model name.
	DefaultModel() string

	// Name returns the backend identifier (e.g. "anthropic", "ollama").
	Name() string
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`

	// Redact, when non-nil, is applied to every outbound text field of the
	// wire body after it is built and before it is marshaled. Each provider
	// walks its own request shape.
	Redact func(string) string `json:"-"`
}

// ChatResponse is the result from a backend call.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"` // "stop", "length"
	Model        string `json:"model,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	Done     bool   `json:"done,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role       string         `json:"role"` // "system", "user", "assistant", "tool"
	Content    string         `json:"content"`
	Blocks     []ContentBlock `json:"blocks,omitempty"` // non-empty = structured content
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ContentBlock is one element of structured message content.
type ContentBlock struct {
	Type       string `json:"type"` // "text", "image", "tool_result"
	Text       string `json:"text,omitempty"`
	MimeType   string `json:"mime_type,omitempty"` // image
	Data       string `json:"data,omitempty"`      // image, base64
	ToolResult string `json:"tool_result,omitempty"`
}

// Usage tracks token consumption as reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Total returns the combined token count, deriving it when the backend
// omitted the total.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
