package chat

// Stream event types, in protocol order.
const (
	EventUserMessage           = "user_message"
	EventAssistantMessageStart = "assistant_message_start"
	EventContent               = "content"
	EventDone                  = "done"
	EventError                 = "error"
)

// TokenUsage is the token breakdown carried on the done frame.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Event is one frame of a chat stream.
type Event struct {
	Type string `json:"type"`

	// user_message, assistant_message_start, done
	MessageID string `json:"message_id,omitempty"`

	// content
	Content string `json:"content,omitempty"`

	// done
	TokensUsed *TokenUsage `json:"tokens_used,omitempty"`

	// error
	Error         string `json:"error,omitempty"`
	QuotaExceeded bool   `json:"quota_exceeded,omitempty"`
}
