package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journey/internal/llm"
	"github.com/mesh-intelligence/journey/pkg/types"
)

const analysisReply = `{
  "analysis": {
    "summary": "A tiring day with a deadline looming.",
    "emotionalState": "stressed",
    "energyLevel": "LOW",
    "keyThemes": ["work", "rest"]
  },
  "suggestedTasks": [
    {"title": "Draft the report outline", "description": "Due Friday", "domain": "work", "priority": 1},
    {"title": "  ", "domain": "work", "priority": 2},
    {"title": "Book a massage", "domain": "wellness", "priority": 9}
  ]
}`

func TestAnalyzeJournal(t *testing.T) {
	ctx := context.Background()
	f := setup(t, reply(analysisReply))
	f.seedTask(t, owner, "Buy milk")
	f.seedTask(t, "u2", "Someone else's task")

	a, err := f.orch.AnalyzeJournal(ctx, AnalyzeRequest{UserID: owner, Content: "Long day. The report is due Friday and I'm exhausted."})
	require.NoError(t, err)

	assert.Equal(t, JournalInsight{
		Summary:        "A tiring day with a deadline looming.",
		EmotionalState: "stressed",
		EnergyLevel:    EnergyLow,
		KeyThemes:      []string{"work", "rest"},
	}, a.Analysis)
	assert.Equal(t, []SuggestedTask{
		{Title: "Draft the report outline", Description: "Due Friday", Domain: types.DomainWork, Priority: 1},
		{Title: "Book a massage", Priority: 4},
	}, a.SuggestedTasks)
	assert.Equal(t, "gemini-test", a.Model)
	assert.Equal(t, llm.Usage{PromptTokens: 10, CompletionTokens: 5}, a.Usage)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Empty(t, req.Tools)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Existing tasks for context:\n- Buy milk (todo)")
	assert.NotContains(t, req.Messages[0].Content, "Someone else's task")
	assert.Equal(t, "Long day. The report is due Friday and I'm exhausted.", req.Messages[1].Content)

	require.NoError(t, f.store.View(ctx, func(tx types.Tx) error {
		threads, err := tx.Threads().List(owner, true)
		require.NoError(t, err)
		assert.Empty(t, threads)
		return nil
	}))
}

func TestAnalyzeJournal_TaskListCapped(t *testing.T) {
	f := setup(t, reply(`{"analysis":{"summary":"ok"},"suggestedTasks":[]}`))
	for i := 0; i < analysisTaskLimit+5; i++ {
		f.seedTask(t, owner, "task")
	}

	a, err := f.orch.AnalyzeJournal(context.Background(), AnalyzeRequest{UserID: owner, Content: "notes"})
	require.NoError(t, err)
	assert.Empty(t, a.SuggestedTasks)
	assert.Equal(t, []string{}, a.Analysis.KeyThemes)

	prompt := f.provider.requests[0].Messages[0].Content
	assert.Equal(t, analysisTaskLimit, strings.Count(prompt, "- task (todo)"))
}

func TestAnalyzeJournal_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     AnalyzeRequest
		step    step
		wantErr error
	}{
		{name: "missing user", req: AnalyzeRequest{Content: "hi"}, wantErr: types.ErrAuthRequired},
		{name: "empty content", req: AnalyzeRequest{UserID: owner, Content: " \n"}, wantErr: types.ErrInvalidData},
		{
			name: "provider failure",
			req:  AnalyzeRequest{UserID: owner, Content: "hi"},
			step: func(llm.Request) (*llm.Response, error) {
				return nil, errors.New("connection reset")
			},
			wantErr: types.ErrProvider,
		},
		{name: "not json", req: AnalyzeRequest{UserID: owner, Content: "hi"}, step: reply("Sounds like a busy day!"), wantErr: types.ErrProvider},
		{name: "empty reply", req: AnalyzeRequest{UserID: owner, Content: "hi"}, step: reply(""), wantErr: types.ErrProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.step
			if s == nil {
				s = reply("unused")
			}
			f := setup(t, s)
			_, err := f.orch.AnalyzeJournal(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantEnergy string
		wantTasks  int
	}{
		{name: "fenced", text: "```json\n{\"analysis\":{\"summary\":\"s\",\"energyLevel\":\"high\"}}\n```", wantEnergy: EnergyHigh},
		{name: "bare fence", text: "```\n{\"analysis\":{\"summary\":\"s\"}}\n```"},
		{name: "null fields", text: `{"analysis":{"summary":"s","emotionalState":null,"energyLevel":null}}`},
		{name: "unknown energy", text: `{"analysis":{"summary":"s","energyLevel":"extreme"}}`},
		{
			name:      "suggestions capped",
			text:      `{"analysis":{"summary":"s"},"suggestedTasks":[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"},{"title":"e"},{"title":"f"}]}`,
			wantTasks: maxSuggestedTasks,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := parseAnalysis(tt.text)
			require.NoError(t, err)
			assert.Equal(t, "s", a.Analysis.Summary)
			assert.Equal(t, tt.wantEnergy, a.Analysis.EnergyLevel)
			assert.Empty(t, a.Analysis.EmotionalState)
			assert.Len(t, a.SuggestedTasks, tt.wantTasks)
		})
	}
}
