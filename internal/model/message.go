package model

// ChatMessage is one role-tagged turn of a conversation, supplied per
// request and never persisted by the core.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem      = "system"
	RoleUserMessage = "user"
	RoleAssistant   = "assistant"
)
