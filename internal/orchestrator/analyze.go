package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/llm"
	"github.com/mesh-intelligence/journey/pkg/types"
)

const (
	// analysisTaskLimit bounds the existing tasks listed in the prompt.
	analysisTaskLimit = 20
	// maxSuggestedTasks bounds the suggestions kept from one analysis.
	maxSuggestedTasks = 5
)

// Energy levels reported by an analysis.
const (
	EnergyLow    = "low"
	EnergyMedium = "medium"
	EnergyHigh   = "high"
)

const analysisPrompt = `You are a productivity assistant analyzing journal entries.
Extract insights and suggest actionable tasks.

Respond with JSON only, matching this schema:
{
  "analysis": {
    "summary": "Brief 1-2 sentence summary of the entry",
    "emotionalState": "emotional tone (e.g., motivated, stressed, calm) or null",
    "energyLevel": "low" | "medium" | "high" | null,
    "keyThemes": ["theme1", "theme2"]
  },
  "suggestedTasks": [
    {
      "title": "Action-oriented task title",
      "description": "Brief context for the task",
      "domain": "work" | "side" | "chores" | "life",
      "priority": 0-4
    }
  ]
}

Guidelines:
- Extract only explicit or clearly implied tasks
- Keep suggested tasks actionable and specific
- Limit to 3-5 suggested tasks max
- Do not suggest tasks that already exist
- Domain: work=job, side=personal projects, chores=life admin, life=everything else`

// AnalyzeRequest is a journal text to analyze.
type AnalyzeRequest struct {
	UserID  string `json:"-"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// JournalInsight describes the entry itself.
type JournalInsight struct {
	Summary        string   `json:"summary"`
	EmotionalState string   `json:"emotionalState,omitempty"`
	EnergyLevel    string   `json:"energyLevel,omitempty"`
	KeyThemes      []string `json:"keyThemes"`
}

// SuggestedTask is a task the entry implies. Suggestions are not stored.
type SuggestedTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Priority    int    `json:"priority"`
}

// Analysis is the model's reading of a journal entry.
type Analysis struct {
	Analysis       JournalInsight  `json:"analysis"`
	SuggestedTasks []SuggestedTask `json:"suggestedTasks"`
	Model          string          `json:"model"`
	Usage          llm.Usage       `json:"tokens"`
}

// AnalyzeJournal asks the model to summarize a journal text and suggest
// tasks. The user's recent tasks are listed in the prompt so suggestions
// avoid duplicates. Nothing is written: callers turn suggestions into tasks
// through the normal proposal flow.
func (o *Orchestrator) AnalyzeJournal(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if req.UserID == "" {
		return nil, types.ErrAuthRequired
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", types.ErrInvalidData)
	}

	var tasks []types.Entity
	err := o.store.View(ctx, func(tx types.Tx) error {
		table, err := tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		tasks, err = table.Fetch(req.UserID, map[string]any{"limit": analysisTaskLimit})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	model := o.llmConfig.SelectModel(req.Model)
	resp, err := o.provider.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisSystemPrompt(tasks)},
			{Role: llm.RoleUser, Content: content},
		},
	})
	if err != nil {
		o.countProvider(model, "error")
		if !errors.Is(err, types.ErrProvider) {
			err = fmt.Errorf("%w: %v", types.ErrProvider, err)
		}
		return nil, err
	}
	o.countProvider(model, "ok")
	o.countTokens(model, resp.Usage)

	a, err := parseAnalysis(resp.Message.Content)
	if err != nil {
		o.logger.Warn("unreadable journal analysis", zap.String("model", model), zap.Error(err))
		return nil, err
	}
	a.Model = model
	a.Usage = resp.Usage
	o.logger.Info("journal analyzed",
		zap.String("user_id", req.UserID),
		zap.String("model", model),
		zap.Int("suggested_tasks", len(a.SuggestedTasks)))
	return a, nil
}

func analysisSystemPrompt(tasks []types.Entity) string {
	if len(tasks) == 0 {
		return analysisPrompt
	}
	var sb strings.Builder
	sb.WriteString(analysisPrompt)
	sb.WriteString("\n\nExisting tasks for context:\n")
	for _, e := range tasks {
		t := e.(*types.Task)
		fmt.Fprintf(&sb, "- %s (%s)\n", t.Title, t.Status)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// parseAnalysis decodes the model's JSON reply, tolerating a surrounding
// code fence. Suggestions without a title are dropped, unknown domains are
// cleared and priorities are clamped to 0..4.
func parseAnalysis(text string) (*Analysis, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty analysis", types.ErrProvider)
	}

	var raw struct {
		Analysis struct {
			Summary        string   `json:"summary"`
			EmotionalState *string  `json:"emotionalState"`
			EnergyLevel    *string  `json:"energyLevel"`
			KeyThemes      []string `json:"keyThemes"`
		} `json:"analysis"`
		SuggestedTasks []SuggestedTask `json:"suggestedTasks"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding analysis: %v", types.ErrProvider, err)
	}

	a := &Analysis{
		Analysis: JournalInsight{
			Summary:   strings.TrimSpace(raw.Analysis.Summary),
			KeyThemes: raw.Analysis.KeyThemes,
		},
		SuggestedTasks: []SuggestedTask{},
	}
	if a.Analysis.KeyThemes == nil {
		a.Analysis.KeyThemes = []string{}
	}
	if s := raw.Analysis.EmotionalState; s != nil {
		a.Analysis.EmotionalState = strings.TrimSpace(*s)
	}
	if e := raw.Analysis.EnergyLevel; e != nil {
		switch level := strings.ToLower(strings.TrimSpace(*e)); level {
		case EnergyLow, EnergyMedium, EnergyHigh:
			a.Analysis.EnergyLevel = level
		}
	}

	for _, s := range raw.SuggestedTasks {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		if !types.ValidDomain(s.Domain) {
			s.Domain = ""
		}
		s.Priority = min(max(s.Priority, 0), 4)
		a.SuggestedTasks = append(a.SuggestedTasks, s)
		if len(a.SuggestedTasks) == maxSuggestedTasks {
			break
		}
	}
	return a, nil
}
