package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journey/internal/action"
	"github.com/mesh-intelligence/journey/internal/auth"
	"github.com/mesh-intelligence/journey/internal/bot"
	"github.com/mesh-intelligence/journey/internal/history"
	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/internal/orchestrator"
	"github.com/mesh-intelligence/journey/internal/sqlite"
	"github.com/mesh-intelligence/journey/pkg/types"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeTurns struct {
	mu       sync.Mutex
	requests []orchestrator.TurnRequest
	err      error
}

func (f *fakeTurns) HandleTurn(_ context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.TurnResult{ThreadID: req.ThreadID, Response: "ok: " + req.Message, Model: "gemini-test"}, nil
}

type fakeAnalyzer struct {
	requests []orchestrator.AnalyzeRequest
	err      error
}

func (f *fakeAnalyzer) AnalyzeJournal(_ context.Context, req orchestrator.AnalyzeRequest) (*orchestrator.Analysis, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Analysis{
		Analysis:       orchestrator.JournalInsight{Summary: "busy", KeyThemes: []string{"work"}},
		SuggestedTasks: []orchestrator.SuggestedTask{{Title: "Draft report", Domain: types.DomainWork, Priority: 1}},
		Model:          "gemini-test",
	}, nil
}

type fakeWebhook struct {
	mu      sync.Mutex
	updates []*bot.Update
}

func (f *fakeWebhook) HandleUpdate(_ context.Context, u *bot.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

type fixture struct {
	store    *sqlite.Backend
	hist     *history.Manager
	resolver *mention.Resolver
	turns    *fakeTurns
	webhook  *fakeWebhook
	metrics  *metrics.Metrics
	tokens   *auth.Tokens
	handler  http.Handler
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:   store,
		hist:    history.NewManager(store),
		turns:   &fakeTurns{},
		webhook: &fakeWebhook{},
		metrics: metrics.New(),
		tokens:  auth.NewTokens("s3cret"),
	}
	f.resolver = mention.NewResolver(store, mention.NewAllocator(nil), nil)
	opts = append([]Option{
		WithMetrics(f.metrics),
		WithWebhook(f.webhook, "hook"),
		WithLinkTokens(f.tokens, "journey_bot"),
	}, opts...)
	srv := New(f.turns, action.NewMachine(store), f.hist, f.resolver, f.tokens, opts...)
	f.handler = srv.Handler()
	return f
}

type response struct {
	code int
	body map[string]any
	raw  []byte
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := f.tokens.Issue(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	res := response{code: rec.Code, raw: rec.Body.Bytes()}
	if len(res.raw) > 0 {
		_ = json.Unmarshal(res.raw, &res.body)
	}
	return res
}

// propose stores a user message and an assistant reply proposing a task.
func (f *fixture) propose(t *testing.T, userID string) (*types.Thread, *types.Message, *types.Action) {
	t.Helper()
	ctx := context.Background()
	th, err := f.hist.CreateThread(ctx, userID, "", "")
	require.NoError(t, err)
	user := &types.Message{ThreadID: th.ID, Role: types.RoleUser, Content: "add milk"}
	require.NoError(t, f.hist.Append(ctx, userID, user))
	a := &types.Action{
		ActionType:  types.ActionCreate,
		EntityType:  types.EntityTask,
		ToolName:    "createTask",
		Description: `Create task: "Buy milk"`,
		Payload:     json.RawMessage(`{"title":"Buy milk"}`),
	}
	reply := &types.Message{ThreadID: th.ID, Role: types.RoleAssistant, Content: "Proposed."}
	require.NoError(t, f.hist.AppendWithActions(ctx, userID, reply, []*types.Action{a}))
	return th, user, a
}

func TestServer_Auth(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	res := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("/healthz", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("/v1/threads", "401")))
}

func TestServer_Chat(t *testing.T) {
	f := setup(t, WithChatRate(2))

	res := f.do(t, http.MethodPost, "/v1/chat", "u1", map[string]any{"message": "hi", "anchorPath": "/tasks", "model": "gemini-test"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.Equal(t, "ok: hi", res.body["response"])
	require.Len(t, f.turns.requests, 1)
	assert.Equal(t, "u1", f.turns.requests[0].UserID)
	assert.Equal(t, "/tasks", f.turns.requests[0].AnchorPath)
	assert.Equal(t, "gemini-test", f.turns.requests[0].Model)

	res = f.do(t, http.MethodPost, "/v1/chat", "u3", map[string]any{"threadId": "t"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/v1/chat", "u1", map[string]any{"message": "again"})
	assert.Equal(t, http.StatusOK, res.code)
	res = f.do(t, http.MethodPost, "/v1/chat", "u1", map[string]any{"message": "too much"})
	assert.Equal(t, http.StatusTooManyRequests, res.code)

	res = f.do(t, http.MethodPost, "/v1/chat", "u2", map[string]any{"message": "other user"})
	assert.Equal(t, http.StatusOK, res.code)
}

func TestServer_ChatErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "provider", err: types.ErrProvider, want: http.StatusBadGateway},
		{name: "missing thread", err: types.ErrNotFound, want: http.StatusNotFound},
		{name: "someone else's thread", err: types.ErrOwnershipViolation, want: http.StatusForbidden},
		{name: "allocation", err: types.ErrAllocationConflict, want: http.StatusServiceUnavailable},
		{name: "unexpected", err: assert.AnError, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.turns.err = tt.err
			res := f.do(t, http.MethodPost, "/v1/chat", "u1", map[string]any{"message": "hi"})
			assert.Equal(t, tt.want, res.code)
			assert.NotEmpty(t, res.body["error"])
		})
	}
}

func TestServer_AnalyzeJournal(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	f := setup(t, WithAnalyzer(analyzer), WithChatRate(1))

	res := f.do(t, http.MethodPost, "/v1/journal/analyze", "u1", map[string]any{"content": "Long day.", "model": "gemini-test"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.Equal(t, map[string]any{"summary": "busy", "keyThemes": []any{"work"}}, res.body["analysis"])
	assert.Equal(t, []any{map[string]any{"title": "Draft report", "domain": "work", "priority": float64(1)}}, res.body["suggestedTasks"])
	require.Len(t, analyzer.requests, 1)
	assert.Equal(t, orchestrator.AnalyzeRequest{UserID: "u1", Content: "Long day.", Model: "gemini-test"}, analyzer.requests[0])

	res = f.do(t, http.MethodPost, "/v1/journal/analyze", "u1", map[string]any{"content": "again"})
	assert.Equal(t, http.StatusTooManyRequests, res.code)

	res = f.do(t, http.MethodPost, "/v1/journal/analyze", "", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusUnauthorized, res.code)

	analyzer.err = types.ErrInvalidData
	res = f.do(t, http.MethodPost, "/v1/journal/analyze", "u2", map[string]any{"content": " "})
	assert.Equal(t, http.StatusBadRequest, res.code)

	analyzer.err = types.ErrProvider
	res = f.do(t, http.MethodPost, "/v1/journal/analyze", "u3", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusBadGateway, res.code)

	res = setup(t).do(t, http.MethodPost, "/v1/journal/analyze", "u1", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestServer_Actions(t *testing.T) {
	f := setup(t)
	th, _, a := f.propose(t, "u1")

	res := f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/actions?status=pending", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["actions"], 1)

	res = f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/actions?status=bogus", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/v1/actions/"+a.ID+"/confirm", "u2", nil)
	assert.Equal(t, http.StatusForbidden, res.code)

	res = f.do(t, http.MethodPost, "/v1/actions/"+a.ID+"/confirm", "u1", nil)
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	assert.Equal(t, "confirmed", res.body["status"])

	res = f.do(t, http.MethodPost, "/v1/actions/"+a.ID+"/reject", "u1", nil)
	assert.Equal(t, http.StatusConflict, res.code)

	res = f.do(t, http.MethodPost, "/v1/actions/"+a.ID+"/revert", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "reverted", res.body["status"])

	res = f.do(t, http.MethodPost, "/v1/actions/missing/confirm", "u1", nil)
	assert.Equal(t, http.StatusNotFound, res.code)

	res = f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/actions?status=pending", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Empty(t, res.body["actions"])
}

func TestServer_Threads(t *testing.T) {
	f := setup(t)
	th, user, _ := f.propose(t, "u1")

	res := f.do(t, http.MethodGet, "/v1/threads", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["threads"], 1)

	res = f.do(t, http.MethodGet, "/v1/threads", "u2", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Empty(t, res.body["threads"])

	res = f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/messages", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["messages"], 2)

	res = f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/messages?limit=1", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["messages"], 1)

	res = f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/messages?limit=-1", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodGet, "/v1/threads/"+th.ID+"/messages", "u2", nil)
	assert.Equal(t, http.StatusForbidden, res.code)

	res = f.do(t, http.MethodPost, "/v1/messages/"+user.ID+"/edit", "u1", map[string]any{"message": "add oat milk"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	branch := res.body["branch"].(map[string]any)
	assert.Equal(t, th.ID, branch["threadId"])
	assert.Len(t, branch["deletedMessageIds"], 2)
	assert.Len(t, branch["rejectedActionIds"], 1)
	require.Len(t, f.turns.requests, 1)
	assert.Equal(t, th.ID, f.turns.requests[0].ThreadID)
	assert.Equal(t, "add oat milk", f.turns.requests[0].Message)

	res = f.do(t, http.MethodPost, "/v1/threads/"+th.ID+"/archive", "u1", nil)
	assert.Equal(t, http.StatusNoContent, res.code)

	res = f.do(t, http.MethodGet, "/v1/threads", "u1", nil)
	assert.Empty(t, res.body["threads"])
	res = f.do(t, http.MethodGet, "/v1/threads?archived=true", "u1", nil)
	assert.Len(t, res.body["threads"], 1)
}

func TestServer_Mentions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var taskID string
	require.NoError(t, f.store.Update(ctx, func(tx types.Tx) error {
		tbl, err := tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		taskID, err = tbl.Insert(&types.Task{UserID: "u1", Title: "Buy milk", Status: types.TaskTodo, CreatedAt: now, UpdatedAt: now})
		return err
	}))
	code, err := f.resolver.Allocate(ctx, "u1", types.EntityTask, taskID)
	require.NoError(t, err)
	require.Equal(t, 1, code)

	res := f.do(t, http.MethodPost, "/v1/mentions/resolve", "u1", map[string]any{"text": "see task#1 and goal#7"})
	require.Equal(t, http.StatusOK, res.code, string(res.raw))
	mentions := res.body["mentions"].([]any)
	require.Len(t, mentions, 2)
	first := mentions[0].(map[string]any)
	assert.Equal(t, true, first["found"])
	assert.Equal(t, "Buy milk", first["title"])
	assert.Equal(t, false, mentions[1].(map[string]any)["found"])

	res = f.do(t, http.MethodPost, "/v1/mentions/resolve", "u2", map[string]any{"text": "task#1"})
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, false, res.body["mentions"].([]any)[0].(map[string]any)["found"])

	res = f.do(t, http.MethodGet, "/v1/mentions/search?type=task&q=milk", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["results"], 1)

	res = f.do(t, http.MethodGet, "/v1/mentions/search?type=file&q=x", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodGet, "/v1/mentions/search-all?q=milk", "u1", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["tasks"], 1)
	assert.Empty(t, res.body["goals"])
}

func TestServer_Telegram(t *testing.T) {
	f := setup(t)
	update := map[string]any{"update_id": 9, "message": map[string]any{"message_id": 1, "chat": map[string]any{"id": 42}, "text": "hi"}}

	post := func(secret string) int {
		body, err := json.Marshal(update)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(body))
		if secret != "" {
			req.Header.Set(bot.SecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("wrong"))
	assert.Equal(t, http.StatusOK, post("hook"))
	require.Len(t, f.webhook.updates, 1)
	assert.Equal(t, int64(9), f.webhook.updates[0].UpdateID)
	assert.Equal(t, "hi", f.webhook.updates[0].Message.Text)

}

func TestServer_TelegramWebhookWithoutSecret(t *testing.T) {
	hook := &fakeWebhook{}
	f := setup(t, WithWebhook(hook, ""))

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":1}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, hook.updates)
}

func TestServer_TelegramLink(t *testing.T) {
	f := setup(t)

	res := f.do(t, http.MethodPost, "/v1/telegram/link", "u1", map[string]any{"chatId": 42})
	require.Equal(t, http.StatusOK, res.code)
	token, _ := res.body["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "/link "+token, res.body["command"])
	assert.Equal(t, "https://t.me/journey_bot?start=link_"+token, res.body["deepLink"])
	assert.NotEmpty(t, res.body["expiresAt"])

	userID, err := f.tokens.VerifyLink(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	require.NoError(t, f.store.View(context.Background(), func(tx types.Tx) error {
		_, err := tx.BotLinks().Get(42)
		assert.ErrorIs(t, err, types.ErrNotFound, "the API never links a chat by id")
		return nil
	}))

	res = f.do(t, http.MethodPost, "/v1/telegram/link", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)

	noLinks := setup(t, WithLinkTokens(nil, ""))
	res = noLinks.do(t, http.MethodPost, "/v1/telegram/link", "u1", nil)
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrAuthRequired, http.StatusUnauthorized},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrMissingSnapshot, http.StatusConflict},
		{types.ErrChatLinked, http.StatusConflict},
		{types.ErrActionNotFound, http.StatusNotFound},
		{types.ErrToolArgument, http.StatusBadRequest},
		{types.ErrInvalidMessageRole, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(tt.err))
		})
	}
}
