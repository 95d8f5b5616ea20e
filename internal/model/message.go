// Package model defines the core data types shared across the relay pipeline.
package model

// Role represents the role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting reported for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// History is a user's conversation state: ordered messages plus the
// cumulative token count folded in across turns.
type History struct {
	Messages   []Message `json:"messages"`
	TokenCount int       `json:"token_count"`
}

// CachedReply is a completion stored in the response cache, keyed by the
// raw inbound text.
type CachedReply struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}
