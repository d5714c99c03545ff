package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mesh-intelligence/journey/internal/action"
	"github.com/mesh-intelligence/journey/internal/llm"
	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/internal/sqlite"
	"github.com/mesh-intelligence/journey/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const owner = "u1"

type step func(req llm.Request) (*llm.Response, error)

// scripted replays steps in order and records every request. When the
// script runs out it repeats the last step.
type scripted struct {
	mu       sync.Mutex
	steps    []step
	requests []llm.Request
}

func (s *scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	next := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return next(req)
}

func reply(text string) step {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Message: llm.Message{Role: llm.RoleAssistant, Content: text},
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5},
		}, nil
	}
}

func call(calls ...llm.ToolCall) step {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5},
		}, nil
	}
}

func tool(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

type fixture struct {
	store    *sqlite.Backend
	provider *scripted
	metrics  *metrics.Metrics
	orch     *Orchestrator
}

func setup(t *testing.T, steps ...step) *fixture {
	t.Helper()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, provider: &scripted{steps: steps}, metrics: metrics.New()}
	f.orch = New(store, f.provider,
		WithMetrics(f.metrics),
		WithLLMConfig(types.LLMConfig{Model: "gemini-test", MaxIterations: 3}),
		WithClock(func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }),
	)
	return f
}

func (f *fixture) seedTask(t *testing.T, userID, title string) int {
	t.Helper()
	var code int
	require.NoError(t, f.store.Update(context.Background(), func(tx types.Tx) error {
		tbl, err := tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		id, err := tbl.Insert(&types.Task{UserID: userID, Title: title, Status: types.TaskTodo, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return err
		}
		code, err = mention.NewAllocator(nil).Allocate(tx, userID, types.EntityTask, id)
		return err
	}))
	return code
}

func lastResults(req llm.Request) []llm.ToolResult {
	return req.Messages[len(req.Messages)-1].ToolResults
}

func TestHandleTurn_ProposesWrite(t *testing.T) {
	ctx := context.Background()
	f := setup(t,
		call(tool("c1", "createTask", `{"title":"Buy milk","priority":2}`)),
		reply("I proposed adding [Buy milk]."),
	)

	res, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: owner, Message: "remind me to buy milk"})
	require.NoError(t, err)

	assert.Equal(t, "I proposed adding [Buy milk].", res.Response)
	assert.Equal(t, "gemini-test", res.Model)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.CapReached)
	assert.Equal(t, llm.Usage{PromptTokens: 20, CompletionTokens: 10}, res.Usage)
	require.Len(t, res.ProposedActions, 1)
	proposed := res.ProposedActions[0]
	assert.NotEmpty(t, proposed.ID)
	assert.Equal(t, `Create task: "Buy milk"`, proposed.Description)
	assert.Equal(t, "createTask", proposed.ToolName)

	require.Len(t, f.provider.requests, 2)
	results := lastResults(f.provider.requests[1])
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].CallID)
	assert.JSONEq(t, `{"status":"pending_confirmation","description":"Create task: \"Buy milk\""}`, string(results[0].Content))

	require.NoError(t, f.store.View(ctx, func(tx types.Tx) error {
		a, err := tx.Actions().Get(proposed.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, a.Status)
		assert.Equal(t, res.MessageID, a.MessageID)

		msgs, err := tx.Messages().ListActive(res.ThreadID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, res.UserMessageID, msgs[0].ID)
		assert.Equal(t, types.RoleAssistant, msgs[1].Role)
		assert.Equal(t, 20, msgs[1].PromptTokens)
		assert.Contains(t, string(msgs[1].ToolCalls), "createTask")
		return nil
	}))

	confirmed, err := action.NewMachine(f.store).Confirm(ctx, owner, proposed.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed.TargetCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ProviderCalls.WithLabelValues("gemini-test", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ToolCalls.WithLabelValues("write", "createTask")))
	assert.Equal(t, 20.0, testutil.ToFloat64(f.metrics.Tokens.WithLabelValues("gemini-test", "prompt")))
}

func TestHandleTurn_ToolResults(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		calls []llm.ToolCall
		check func(t *testing.T, f *fixture, results []llm.ToolResult, res *TurnResult)
	}{
		{
			name:  "invalid write arguments go back to the model",
			calls: []llm.ToolCall{tool("c1", "createTask", `{"priority":1}`), tool("c2", "deleteTask", `{"taskCode":3,"force":true}`)},
			check: func(t *testing.T, _ *fixture, results []llm.ToolResult, res *TurnResult) {
				require.Len(t, results, 2)
				assert.Contains(t, string(results[0].Content), `"success":false`)
				assert.Contains(t, string(results[0].Content), "title is required")
				assert.Contains(t, string(results[1].Content), "force")
				assert.Empty(t, res.ProposedActions)
			},
		},
		{
			name: "reads keep call order",
			calls: []llm.ToolCall{
				tool("c1", "searchTasks", `{"query":"MILK"}`),
				tool("c2", "launchRocket", `{}`),
				tool("c3", "getTask", `{"taskCode":2}`),
				tool("c4", "getTask", `{"taskCode":99}`),
			},
			check: func(t *testing.T, _ *fixture, results []llm.ToolResult, _ *TurnResult) {
				require.Len(t, results, 4)
				for i, id := range []string{"c1", "c2", "c3", "c4"} {
					assert.Equal(t, id, results[i].CallID)
				}

				var search struct {
					Success bool             `json:"success"`
					Data    []map[string]any `json:"data"`
				}
				require.NoError(t, json.Unmarshal(results[0].Content, &search))
				assert.True(t, search.Success)
				require.Len(t, search.Data, 1)
				assert.Equal(t, "Buy milk", search.Data[0]["title"])
				assert.Equal(t, "task#1", search.Data[0]["ref"])

				assert.Contains(t, string(results[1].Content), "unknown tool")

				var got struct {
					Data map[string]any `json:"data"`
				}
				require.NoError(t, json.Unmarshal(results[2].Content, &got))
				assert.Equal(t, "Walk dog", got.Data["title"])
				assert.Equal(t, 2.0, got.Data["shortCode"])

				assert.Contains(t, string(results[3].Content), "not found")
			},
		},
		{
			name:  "mentions resolve for the caller only",
			calls: []llm.ToolCall{tool("c1", "resolveMentions", `{"text":"see task#1 and task#7"}`)},
			check: func(t *testing.T, _ *fixture, results []llm.ToolResult, _ *TurnResult) {
				var got struct {
					Data []mention.ResolvedMention `json:"data"`
				}
				require.NoError(t, json.Unmarshal(results[0].Content, &got))
				require.Len(t, got.Data, 2)
				assert.True(t, got.Data[0].Found)
				assert.Equal(t, "/tasks/1", got.Data[0].URL)
				assert.False(t, got.Data[1].Found)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, call(tt.calls...), reply("done"))
			f.seedTask(t, owner, "Buy milk")
			f.seedTask(t, owner, "Walk dog")
			f.seedTask(t, "u2", "Not yours")

			res, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: owner, Message: "look around"})
			require.NoError(t, err)
			require.Len(t, f.provider.requests, 2)
			tt.check(t, f, lastResults(f.provider.requests[1]), res)
		})
	}
}

func TestHandleTurn_CapReached(t *testing.T) {
	ctx := context.Background()
	f := setup(t, call(tool("c1", "createTask", `{"title":"Loop"}`)))

	res, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: owner, Message: "keep going"})
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, capReachedText, res.Response)
	assert.Empty(t, res.ProposedActions)

	require.NoError(t, f.store.View(ctx, func(tx types.Tx) error {
		pending, err := tx.Actions().ListByThread(res.ThreadID, types.StatusPending)
		require.NoError(t, err)
		assert.Empty(t, pending)
		return nil
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Turns.WithLabelValues("cap_reached")))
}

func TestHandleTurn_Context(t *testing.T) {
	ctx := context.Background()
	f := setup(t, reply("first answer"))
	code := f.seedTask(t, owner, "Buy milk")
	require.Equal(t, 1, code)

	first, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: owner, Message: "hello", AnchorPath: "/tasks/1"})
	require.NoError(t, err)

	second, err := f.orch.HandleTurn(ctx, TurnRequest{
		UserID:       owner,
		Message:      "what about task#1?",
		AnchorPath:   "/tasks/1",
		SystemPrompt: "custom prompt",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID, "anchor reuses the thread")

	require.Len(t, f.provider.requests, 2)
	firstReq, req := f.provider.requests[0], f.provider.requests[1]
	assert.Equal(t, DefaultSystemPrompt, firstReq.Messages[0].Content)
	assert.Len(t, req.Tools, len(f.orch.Catalogue().Tools()))

	msgs := req.Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "custom prompt", msgs[0].Content)
	bg := msgs[1].Content
	assert.Contains(t, bg, "2026-03-02")
	assert.Contains(t, bg, "/tasks/1")
	assert.Contains(t, bg, "task#1: Buy milk [todo]")
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, "first answer", msgs[3].Content)
	assert.Equal(t, "what about task#1?", msgs[4].Content)
}

func TestHandleTurn_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		req     TurnRequest
		steps   []step
		wantErr error
	}{
		{name: "missing user", req: TurnRequest{Message: "hi"}, wantErr: types.ErrAuthRequired},
		{name: "empty message", req: TurnRequest{UserID: owner, Message: "  "}, wantErr: types.ErrInvalidData},
		{name: "foreign thread", req: TurnRequest{UserID: owner, ThreadID: "missing", Message: "hi"}, wantErr: types.ErrNotFound},
		{
			name: "provider failure",
			req:  TurnRequest{UserID: owner, Message: "hi"},
			steps: []step{func(llm.Request) (*llm.Response, error) {
				return nil, errors.New("connection reset")
			}},
			wantErr: types.ErrProvider,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := tt.steps
			if steps == nil {
				steps = []step{reply("unused")}
			}
			f := setup(t, steps...)
			_, err := f.orch.HandleTurn(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHandleTurn_ProviderFailureAfterWrite(t *testing.T) {
	ctx := context.Background()
	f := setup(t,
		call(tool("c1", "createTask", `{"title":"Buy milk"}`)),
		func(llm.Request) (*llm.Response, error) { return nil, errors.New("connection reset") },
	)

	_, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: owner, Message: "remind me to buy milk"})
	require.ErrorIs(t, err, types.ErrProvider)

	require.NoError(t, f.store.View(ctx, func(tx types.Tx) error {
		threads, err := tx.Threads().List(owner, true)
		require.NoError(t, err)
		require.Len(t, threads, 1)

		msgs, err := tx.Messages().ListActive(threads[0].ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.RoleUser, msgs[0].Role)
		assert.Equal(t, "remind me to buy milk", msgs[0].Content)

		actions, err := tx.Actions().ListByThread(threads[0].ID, "")
		require.NoError(t, err)
		assert.Empty(t, actions)
		return nil
	}))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{name: "create", tool: "createProject", args: `{"name":"Garden","type":"life"}`, want: `Create project: "Garden"`},
		{name: "update keeps field order", tool: "updateTask", args: `{"status":"done","taskCode":3,"priority":2}`, want: "Update task task#3: status: done, priority: 2"},
		{name: "update without fields", tool: "updateGoal", args: `{"goalCode":4}`, want: "Update goal goal#4"},
		{name: "delete", tool: "deleteProject", args: `{"projectCode":9}`, want: "Delete project project#9"},
		{name: "delete file", tool: "deleteFile", args: `{"fileId":"f-1"}`, want: "Delete file f-1"},
		{name: "journal", tool: "createJournalEntry", args: `{"content":"Slept well"}`, want: `Create journal: "Slept well"`},
	}
	c := NewCatalogue()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, ok := c.Lookup(tt.tool)
			require.True(t, ok)
			p, err := propose(spec, json.RawMessage(tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Description)
		})
	}
}

func TestCatalogue(t *testing.T) {
	c := NewCatalogue()
	var reads, writes int
	pairs := map[string]bool{}
	for _, tl := range c.Tools() {
		spec, ok := c.Lookup(tl.Name)
		require.True(t, ok)
		if spec.Kind == KindRead {
			reads++
			continue
		}
		writes++
		pairs[string(spec.EntityType)+"/"+string(spec.ActionType)] = true

		if spec.ActionType != types.ActionCreate {
			key := types.TargetKey(spec.EntityType)
			assert.Contains(t, tl.InputSchema.Required, key, tl.Name)
		}
		for _, prefix := range []string{"create", "update", "delete"} {
			if strings.HasPrefix(tl.Name, prefix) {
				assert.Equal(t, prefix, string(spec.ActionType), tl.Name)
			}
		}
	}
	assert.Equal(t, 8, reads)
	assert.Equal(t, 18, writes)
	assert.Len(t, pairs, 18)
}
