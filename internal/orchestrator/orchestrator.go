// Package orchestrator runs one chat turn: it sends the conversation and the
// tool catalogue to the model, answers read tools from the store, turns write
// tools into pending proposals, and persists the exchange.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/journey/internal/history"
	"github.com/mesh-intelligence/journey/internal/llm"
	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// readConcurrency bounds parallel read tools within one model step.
const readConcurrency = 4

// TurnRequest is one user message.
type TurnRequest struct {
	UserID     string `json:"-"`
	ThreadID   string `json:"threadId,omitempty"`
	Message    string `json:"message"`
	AnchorPath string `json:"anchorPath,omitempty"`
	Model      string `json:"model,omitempty"`

	// SystemPrompt replaces DefaultSystemPrompt when set.
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// HistoryLimit keeps only the last N prior messages. Zero uses the
	// orchestrator default; negative sends the full history.
	HistoryLimit int `json:"historyLimit,omitempty"`
}

// ProposedAction is a pending action created by the turn.
type ProposedAction struct {
	ID          string           `json:"id"`
	ActionType  types.ActionType `json:"actionType"`
	EntityType  types.EntityType `json:"entityType"`
	TargetCode  int              `json:"targetCode,omitempty"`
	Description string           `json:"description"`
	ToolName    string           `json:"toolName"`
	Args        json.RawMessage  `json:"args"`
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	ThreadID        string           `json:"threadId"`
	UserMessageID   string           `json:"userMessageId"`
	MessageID       string           `json:"messageId"`
	Response        string           `json:"response"`
	ProposedActions []ProposedAction `json:"proposedActions"`
	Model           string           `json:"model"`
	Usage           llm.Usage        `json:"tokens"`
	Iterations      int              `json:"iterations"`
	CapReached      bool             `json:"capReached,omitempty"`
}

// Orchestrator handles chat turns.
type Orchestrator struct {
	store        types.Store
	provider     llm.Provider
	catalogue    *Catalogue
	reader       *reader
	history      *history.Manager
	resolver     *mention.Resolver
	llmConfig    types.LLMConfig
	historyLimit int
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the collectors turns are counted on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithResolver sets the mention resolver used for context and the
// resolveMentions tool.
func WithResolver(r *mention.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithHistory sets the history manager.
func WithHistory(h *history.Manager) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithLLMConfig sets model selection and the iteration cap.
func WithLLMConfig(cfg types.LLMConfig) Option {
	return func(o *Orchestrator) { o.llmConfig = cfg }
}

// WithHistoryLimit sets the default number of prior messages sent.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator over store and provider.
func New(store types.Store, provider llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		provider:     provider,
		catalogue:    NewCatalogue(),
		historyLimit: types.DefaultHistoryLimit,
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil {
		o.history = history.NewManager(store, history.WithLogger(o.logger), history.WithClock(o.now))
	}
	if o.resolver == nil {
		o.resolver = mention.NewResolver(store, nil, o.logger)
	}
	o.reader = &reader{store: store, resolver: o.resolver}
	return o
}

// Catalogue returns the tools offered to the model.
func (o *Orchestrator) Catalogue() *Catalogue {
	return o.catalogue
}

func (o *Orchestrator) maxIterations() int {
	if o.llmConfig.MaxIterations > 0 {
		return o.llmConfig.MaxIterations
	}
	return types.DefaultMaxIterations
}

// HandleTurn runs one user message through the model. The user message is
// stored before the model is called; the reply and its proposals are stored
// together afterwards. When the model is still calling tools after the
// iteration cap the reply is a fixed apology and its proposals are dropped.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.UserID == "" {
		return nil, types.ErrAuthRequired
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", types.ErrInvalidData)
	}

	thread, err := o.history.ThreadFor(ctx, req.UserID, req.ThreadID, req.AnchorPath)
	if err != nil {
		return nil, err
	}
	limit := req.HistoryLimit
	if limit == 0 {
		limit = o.historyLimit
	}
	if limit < 0 {
		limit = 0
	}
	prior, err := o.history.LoadActive(ctx, req.UserID, thread.ID, limit)
	if err != nil {
		return nil, err
	}

	userMsg := &types.Message{ThreadID: thread.ID, Role: types.RoleUser, Content: text}
	if err := o.history.Append(ctx, req.UserID, userMsg); err != nil {
		return nil, err
	}

	bg, err := o.loadBackground(ctx, req.UserID, thread.AnchorPath, text)
	if err != nil {
		return nil, err
	}
	system := req.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}

	messages := make([]llm.Message, 0, len(prior)+3)
	messages = append(messages,
		llm.Message{Role: llm.RoleSystem, Content: system},
		llm.Message{Role: llm.RoleSystem, Content: bg.render()},
	)
	for _, m := range prior {
		switch m.Role {
		case types.RoleUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case types.RoleAssistant:
			if m.Content != "" {
				messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			}
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	model := o.llmConfig.SelectModel(req.Model)
	res := &TurnResult{ThreadID: thread.ID, UserMessageID: userMsg.ID, Model: model}

	proposals, reply, err := o.loop(ctx, req.UserID, model, messages, res)
	if err != nil {
		o.countTurn("error")
		return nil, err
	}
	res.Response = reply

	assistant := &types.Message{
		ThreadID:         thread.ID,
		Role:             types.RoleAssistant,
		Content:          reply,
		Model:            model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
	}
	if len(proposals) > 0 {
		if assistant.ToolCalls, err = json.Marshal(proposals); err != nil {
			return nil, fmt.Errorf("encoding proposals: %w", err)
		}
	}
	actions := make([]*types.Action, len(proposals))
	for i, p := range proposals {
		actions[i] = p.Action()
	}
	if err := o.history.AppendWithActions(ctx, req.UserID, assistant, actions); err != nil {
		return nil, err
	}

	res.MessageID = assistant.ID
	res.ProposedActions = make([]ProposedAction, len(actions))
	for i, a := range actions {
		res.ProposedActions[i] = ProposedAction{
			ID:          a.ID,
			ActionType:  a.ActionType,
			EntityType:  a.EntityType,
			TargetCode:  a.TargetCode,
			Description: a.Description,
			ToolName:    a.ToolName,
			Args:        a.Payload,
		}
	}

	outcome := "ok"
	if res.CapReached {
		outcome = "cap_reached"
	}
	o.countTurn(outcome)
	o.logger.Info("chat turn",
		zap.String("user_id", req.UserID),
		zap.String("thread_id", thread.ID),
		zap.String("model", model),
		zap.Int("iterations", res.Iterations),
		zap.Int("proposals", len(actions)),
		zap.Bool("cap_reached", res.CapReached))
	return res, nil
}

// loop calls the model until it answers without tool calls or the cap is
// reached.
func (o *Orchestrator) loop(ctx context.Context, userID, model string, messages []llm.Message, res *TurnResult) ([]*Proposal, string, error) {
	var proposals []*Proposal
	tools := o.catalogue.Tools()

	for i := 0; i < o.maxIterations(); i++ {
		res.Iterations = i + 1
		resp, err := o.provider.Complete(ctx, llm.Request{Model: model, Messages: messages, Tools: tools})
		if err != nil {
			o.countProvider(model, "error")
			if !errors.Is(err, types.ErrProvider) {
				err = fmt.Errorf("%w: %v", types.ErrProvider, err)
			}
			return nil, "", err
		}
		o.countProvider(model, "ok")
		o.countTokens(model, resp.Usage)
		res.Usage.Add(resp.Usage)

		if len(resp.Message.ToolCalls) == 0 {
			return proposals, resp.Message.Content, nil
		}

		results, proposed := o.runTools(ctx, userID, resp.Message.ToolCalls)
		proposals = append(proposals, proposed...)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content, ToolCalls: resp.Message.ToolCalls},
			llm.Message{Role: llm.RoleTool, ToolResults: results},
		)
	}

	res.CapReached = true
	o.logger.Warn("tool iteration cap reached",
		zap.String("user_id", userID),
		zap.Int("iterations", res.Iterations),
		zap.Int("dropped_proposals", len(proposals)))
	return nil, capReachedText, nil
}

// runTools answers one step's tool calls. Results keep call order; reads run
// concurrently and writes become proposals in call order.
func (o *Orchestrator) runTools(ctx context.Context, userID string, calls []llm.ToolCall) ([]llm.ToolResult, []*Proposal) {
	results := make([]llm.ToolResult, len(calls))
	var proposals []*Proposal

	var g errgroup.Group
	g.SetLimit(readConcurrency)
	for i, call := range calls {
		results[i] = llm.ToolResult{CallID: call.ID, Name: call.Name}

		spec, ok := o.catalogue.Lookup(call.Name)
		if !ok {
			o.countTool("unknown", call.Name)
			results[i].Content = errResult(fmt.Errorf("unknown tool %q", call.Name))
			continue
		}
		o.countTool(string(spec.Kind), call.Name)

		if spec.Kind == KindWrite {
			p, err := propose(spec, call.Args)
			if err != nil {
				o.logger.Debug("rejected tool arguments", zap.String("tool", call.Name), zap.Error(err))
				results[i].Content = errResult(err)
				continue
			}
			proposals = append(proposals, p)
			results[i].Content = pendingResult(p)
			continue
		}

		g.Go(func() error {
			results[i].Content = o.reader.run(ctx, userID, call.Name, call.Args)
			return nil
		})
	}
	_ = g.Wait()
	return results, proposals
}

func (o *Orchestrator) countTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countProvider(model, outcome string) {
	if o.metrics != nil {
		o.metrics.ProviderCalls.WithLabelValues(model, outcome).Inc()
	}
}

func (o *Orchestrator) countTool(kind, tool string) {
	if o.metrics != nil {
		o.metrics.ToolCalls.WithLabelValues(kind, tool).Inc()
	}
}

func (o *Orchestrator) countTokens(model string, u llm.Usage) {
	if o.metrics != nil {
		o.metrics.Tokens.WithLabelValues(model, "prompt").Add(float64(u.PromptTokens))
		o.metrics.Tokens.WithLabelValues(model, "completion").Add(float64(u.CompletionTokens))
	}
}
