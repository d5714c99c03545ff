// Package llm is the boundary to language model providers. The orchestrator
// speaks this package's provider-neutral message types; adapters translate
// them to a vendor SDK.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Role of a conversation message.
type Role string

// Roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function call requested by the model. ThoughtSignature is
// opaque provider state that must be sent back with the call on the next
// request.
type ToolCall struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Args             json.RawMessage `json:"args"`
	ThoughtSignature []byte          `json:"thoughtSignature,omitempty"`
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string          `json:"callId"`
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

// Message is one turn of the conversation sent to the provider. Assistant
// messages may carry ToolCalls; tool messages carry ToolResults.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Request is one completion call.
type Request struct {
	Model    string
	Messages []Message
	Tools    []mcp.Tool
}

// Response is the model's reply to a Request.
type Response struct {
	Message Message
	Usage   Usage
}

// Provider completes a conversation. Implementations return errors wrapping
// types.ErrProvider for transport or vendor failures.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// NewProvider builds the provider named in cfg.
func NewProvider(ctx context.Context, cfg types.LLMConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case types.ProviderGemini, "":
		return NewGemini(ctx, cfg.APIKey, WithGeminiLogger(logger), WithGeminiTimeout(cfg.Timeout))
	}
	return nil, fmt.Errorf("%w: %q", types.ErrProviderUnknown, cfg.Provider)
}
