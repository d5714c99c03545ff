package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Proposal is a write the model asked for, held until the user decides.
type Proposal struct {
	ActionType  types.ActionType `json:"actionType"`
	EntityType  types.EntityType `json:"entityType"`
	TargetCode  int              `json:"targetCode,omitempty"`
	EntityID    string           `json:"entityId,omitempty"`
	ToolName    string           `json:"toolName"`
	Description string           `json:"description"`
	Args        json.RawMessage  `json:"args"`
}

// Action converts the proposal to a pending action row.
func (p *Proposal) Action() *types.Action {
	return &types.Action{
		ActionType:  p.ActionType,
		EntityType:  p.EntityType,
		EntityID:    p.EntityID,
		TargetCode:  p.TargetCode,
		ToolName:    p.ToolName,
		Description: p.Description,
		Payload:     p.Args,
	}
}

// propose validates a write call and builds its proposal.
func propose(spec ToolSpec, args json.RawMessage) (*Proposal, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	payload, err := types.DecodePayload(spec.EntityType, spec.ActionType, args)
	if err != nil {
		return nil, err
	}
	target := payload.Target()
	p := &Proposal{
		ActionType: spec.ActionType,
		EntityType: spec.EntityType,
		TargetCode: target.Code,
		EntityID:   target.ID,
		ToolName:   spec.Tool.Name,
		Args:       args,
	}
	p.Description = describe(spec.EntityType, spec.ActionType, payload, args)
	return p, nil
}

// pendingResult is what the model sees for a write call.
func pendingResult(p *Proposal) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"status":      "pending_confirmation",
		"description": p.Description,
	})
	return b
}

// describe renders a one-line summary shown next to the Confirm button:
//
//	Create task: "Buy milk"
//	Update task task#3: status: done, priority: 2
//	Delete project project#9
func describe(kind types.EntityType, act types.ActionType, payload types.Payload, args json.RawMessage) string {
	switch act {
	case types.ActionCreate:
		return fmt.Sprintf("Create %s: %q", kind, createLabel(payload))
	case types.ActionUpdate:
		fields := orderedFields(args, types.TargetKey(kind))
		if len(fields) == 0 {
			return fmt.Sprintf("Update %s %s", kind, targetLabel(kind, payload.Target()))
		}
		return fmt.Sprintf("Update %s %s: %s", kind, targetLabel(kind, payload.Target()), strings.Join(fields, ", "))
	case types.ActionDelete:
		return fmt.Sprintf("Delete %s %s", kind, targetLabel(kind, payload.Target()))
	}
	return fmt.Sprintf("%s %s", act, kind)
}

func targetLabel(kind types.EntityType, t types.Target) string {
	if t.Code > 0 {
		return fmt.Sprintf("%s#%d", kind, t.Code)
	}
	return t.ID
}

func createLabel(p types.Payload) string {
	switch in := p.(type) {
	case *types.TaskInput:
		return in.Title
	case *types.ProjectInput:
		return in.Name
	case *types.GoalInput:
		return in.Title
	case *types.JournalInput:
		return types.TruncateTitle(in.Content)
	case *types.MemoryInput:
		return types.TruncateTitle(in.Content)
	case *types.FileInput:
		return in.Filename
	}
	return ""
}

// orderedFields lists "key: value" pairs in the order the model sent them,
// skipping the target key.
func orderedFields(args json.RawMessage, skip string) []string {
	dec := json.NewDecoder(bytes.NewReader(args))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var out []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return out
		}
		if key == skip {
			continue
		}
		out = append(out, key+": "+fieldValue(val))
	}
	return out
}

func fieldValue(val json.RawMessage) string {
	var s string
	if err := json.Unmarshal(val, &s); err == nil {
		return s
	}
	return string(val)
}
