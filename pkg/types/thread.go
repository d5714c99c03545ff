package types

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Thread is a conversation owned by one user, optionally anchored to a page
// or an external chat such as a Telegram conversation.
type Thread struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	AnchorPath string     `json:"anchorPath,omitempty"`
	Title      string     `json:"title,omitempty"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Message is one entry in a thread. Messages are ordered by CreatedAt, which
// the store keeps strictly increasing within a thread. A non-nil DeletedAt
// marks the message as branched away.
type Message struct {
	ID               string          `json:"id"`
	ThreadID         string          `json:"threadId"`
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	ToolCalls        json.RawMessage `json:"toolCalls,omitempty"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int             `json:"promptTokens,omitempty"`
	CompletionTokens int             `json:"completionTokens,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	DeletedAt        *time.Time      `json:"deletedAt,omitempty"`
}

// Active reports whether the message has not been soft-deleted.
func (m *Message) Active() bool {
	return m.DeletedAt == nil
}

// ShortCodeEntry maps a per-user, per-type short code to an entity.
type ShortCodeEntry struct {
	UserID     string     `json:"userId"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Code       int        `json:"code"`
}

// BotLink ties an external chat to a user.
type BotLink struct {
	ChatID    int64     `json:"chatId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}
