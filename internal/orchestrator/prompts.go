package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// DefaultSystemPrompt is used when the caller supplies none.
const DefaultSystemPrompt = `You are a personal productivity partner. You help the user plan their days, keep track of tasks, projects and goals, reflect in a journal, and remember what matters to them.

You can look things up with the read tools at any time. Every change you make (creating, updating or deleting anything) is only a proposal: the user sees a description and confirms or cancels it. Never claim a change has been made; say what you proposed.

Guidelines:
- Be brief and concrete. Prefer one clear suggestion over a list of options.
- Look up existing items before proposing duplicates.
- Refer to items by their short reference and link them, for example [Buy milk (task#1)](/tasks/1) or [Garden (project#2)](/projects/2).
- Targets of updates and deletes are short codes such as taskCode 3 for task#3. Files are targeted by fileId.
- Use dates in YYYY-MM-DD form.`

// capReachedText replaces the reply when the model keeps calling tools.
const capReachedText = "I wasn't able to complete that request. Please try rephrasing it."

// activeGoalLimit bounds the goals listed in the background.
const activeGoalLimit = 10

// background gathers the per-turn context appended to the system prompt.
type background struct {
	AnchorPath string
	Now        time.Time
	Goals      []types.Entity
	Mentions   []mention.ResolvedMention
}

func (b background) render() string {
	var sb strings.Builder
	sb.WriteString("## Context\n")
	fmt.Fprintf(&sb, "Today is %s.\n", b.Now.Format("Monday, 2006-01-02"))
	if b.AnchorPath != "" {
		fmt.Fprintf(&sb, "The user is looking at %s.\n", b.AnchorPath)
	}
	if len(b.Goals) > 0 {
		sb.WriteString("\nActive goals:\n")
		for _, g := range b.Goals {
			goal := g.(*types.Goal)
			fmt.Fprintf(&sb, "- %s (%s)\n", goal.Title, goal.Horizon)
		}
	}
	var found []mention.ResolvedMention
	for _, m := range b.Mentions {
		if m.Found {
			found = append(found, m)
		}
	}
	if len(found) > 0 {
		sb.WriteString("\nReferenced in the message:\n")
		for _, m := range found {
			line := fmt.Sprintf("- %s#%d: %s", m.EntityType, m.ShortCode, m.Title)
			if m.Status != "" {
				line += " [" + m.Status + "]"
			}
			sb.WriteString(line + "\n")
		}
	}
	return sb.String()
}

// loadBackground reads active goals and resolves mentions in text. A
// failure to resolve mentions only drops them from the context.
func (o *Orchestrator) loadBackground(ctx context.Context, userID, anchorPath, text string) (background, error) {
	b := background{AnchorPath: anchorPath, Now: o.now()}
	err := o.store.View(ctx, func(tx types.Tx) error {
		goals, err := tx.Entities(types.EntityGoal)
		if err != nil {
			return err
		}
		b.Goals, err = goals.Fetch(userID, map[string]any{"status": types.GoalActive, "limit": activeGoalLimit})
		return err
	})
	if err != nil {
		return b, fmt.Errorf("loading goals: %w", err)
	}
	if o.resolver != nil {
		mentions, err := o.resolver.ResolveText(ctx, userID, text)
		if err != nil {
			o.logger.Warn("resolving mentions for context failed", zap.Error(err))
		} else {
			b.Mentions = mentions
		}
	}
	return b, nil
}
