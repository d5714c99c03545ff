package types

import (
	"encoding/json"
	"time"
)

// ActionType is the kind of write an action performs.
type ActionType string

// Action types.
const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// ActionStatus is the lifecycle state of an action.
//
//	pending --confirm--> confirmed --revert--> reverted
//	pending --reject---> rejected
//
// rejected and reverted are terminal.
type ActionStatus string

// Action statuses.
const (
	StatusPending   ActionStatus = "pending"
	StatusConfirmed ActionStatus = "confirmed"
	StatusRejected  ActionStatus = "rejected"
	StatusReverted  ActionStatus = "reverted"
)

// transitions holds the only legal status edges.
var transitions = map[ActionStatus]map[ActionStatus]bool{
	StatusPending:   {StatusConfirmed: true, StatusRejected: true},
	StatusConfirmed: {StatusReverted: true},
}

// CanTransition reports whether an action may move from one status to another.
func CanTransition(from, to ActionStatus) bool {
	return transitions[from][to]
}

// Terminal reports whether no further transitions leave s.
func (s ActionStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Action is a proposed write held until the user confirms or rejects it.
// EntityID is empty for creates until confirmation, and for short-code
// targets until the code is resolved at confirm time.
type Action struct {
	ID             string          `json:"id"`
	MessageID      string          `json:"messageId"`
	ActionType     ActionType      `json:"actionType"`
	EntityType     EntityType      `json:"entityType"`
	EntityID       string          `json:"entityId,omitempty"`
	TargetCode     int             `json:"targetCode,omitempty"`
	ToolName       string          `json:"toolName"`
	Description    string          `json:"description"`
	Payload        json.RawMessage `json:"payload"`
	Status         ActionStatus    `json:"status"`
	SnapshotBefore *Snapshot       `json:"snapshotBefore,omitempty"`
	SnapshotAfter  *Snapshot       `json:"snapshotAfter,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExecutedAt     *time.Time      `json:"executedAt,omitempty"`
	RevertedAt     *time.Time      `json:"revertedAt,omitempty"`
}

// Snapshot is the full state of an entity at one point in time, including the
// rows a delete cascades through, so that an inverse can restore it exactly.
type Snapshot struct {
	Entity    json.RawMessage `json:"entity"`
	ShortCode int             `json:"shortCode,omitempty"`
	Links     []TaskLink      `json:"links,omitempty"`
	Unlinked  []string        `json:"unlinked,omitempty"`
	Object    string          `json:"object,omitempty"`
}

// Decode unmarshals the entity state into a fresh value of the right struct.
func (s *Snapshot) Decode(t EntityType) (Entity, error) {
	if s == nil || len(s.Entity) == 0 {
		return nil, ErrMissingSnapshot
	}
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(s.Entity, e); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEntity returns a zero value pointer of the struct for t.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case EntityTask:
		return &Task{}, nil
	case EntityProject:
		return &Project{}, nil
	case EntityGoal:
		return &Goal{}, nil
	case EntityJournal:
		return &JournalEntry{}, nil
	case EntityMemory:
		return &Memory{}, nil
	case EntityFile:
		return &File{}, nil
	}
	return nil, ErrInvalidEntityType
}
