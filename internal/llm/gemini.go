package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// generator is the slice of the genai client the adapter uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini is a Provider backed by the Google Gen AI SDK.
type Gemini struct {
	models  generator
	timeout time.Duration
	logger  *zap.Logger
}

// GeminiOption configures the adapter.
type GeminiOption func(*Gemini)

// WithGeminiLogger sets the logger.
func WithGeminiLogger(l *zap.Logger) GeminiOption {
	return func(g *Gemini) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithGeminiTimeout bounds each call. Zero means no bound beyond ctx.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) { g.timeout = d }
}

// NewGemini creates a client for the Gemini API.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", types.ErrProvider)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating gemini client: %v", types.ErrProvider, err)
	}
	return newGemini(client.Models, opts...), nil
}

func newGemini(models generator, opts ...GeminiOption) *Gemini {
	g := &Gemini{models: models, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete sends the conversation and returns the first candidate.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	system, contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(req.Tools)}}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProvider, err)
	}
	out, err := fromResponse(resp)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("gemini call",
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tool_calls", len(out.Message.ToolCalls)),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens))
	return out, nil
}

// toContents splits system messages into the system instruction and maps the
// rest to Gemini contents. Consecutive tool results share one content.
func toContents(messages []Message) (*genai.Content, []*genai.Content, error) {
	var (
		systemParts []*genai.Part
		contents    []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: m.Content})
		case RoleUser:
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleUser),
				Parts: []*genai.Part{{Text: m.Content}},
			})
		case RoleAssistant:
			c := &genai.Content{Role: string(genai.RoleModel)}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				args, err := decodeObject(call.Args)
				if err != nil {
					return nil, nil, fmt.Errorf("tool call %s args: %w", call.Name, err)
				}
				c.Parts = append(c.Parts, &genai.Part{
					FunctionCall:     &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args},
					ThoughtSignature: call.ThoughtSignature,
				})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}
		case RoleTool:
			var parts []*genai.Part
			for _, res := range m.ToolResults {
				body, err := decodeObject(res.Content)
				if err != nil {
					body = map[string]any{"output": string(res.Content)}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID: res.CallID, Name: res.Name, Response: body,
				}})
			}
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			} else if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})
			}
		default:
			return nil, nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, contents, nil
}

func isFunctionResponses(c *genai.Content) bool {
	if len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// decodeObject parses a JSON object. Empty input is an empty object; any
// other non-object value is wrapped under "output".
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"output": v}, nil
}

// toDeclarations passes each tool's JSON schema through unchanged.
func toDeclarations(tools []mcp.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := t.InputSchema.Properties
		if props == nil {
			props = map[string]any{}
		}
		schema := map[string]any{"type": "object", "properties": props}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return decls
}

var errEmptyResponse = errors.New("model returned no candidates")

func fromResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProvider, errEmptyResponse)
	}

	out := &Response{Message: Message{Role: RoleAssistant}}
	var text []string
	for i, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: encoding call args: %v", types.ErrProvider, err)
			}
			if part.FunctionCall.Args == nil {
				args = json.RawMessage("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:               id,
				Name:             part.FunctionCall.Name,
				Args:             args,
				ThoughtSignature: part.ThoughtSignature,
			})
		case part.Text != "" && !part.Thought:
			text = append(text, part.Text)
		}
	}
	out.Message.Content = strings.Join(text, "")

	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{PromptTokens: int(u.PromptTokenCount), CompletionTokens: int(u.CandidatesTokenCount)}
	}
	return out, nil
}
