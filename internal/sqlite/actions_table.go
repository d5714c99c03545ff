package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.ActionTable = (*actionsTable)(nil)

type actionsTable struct {
	*txn
}

const actionColumns = "id, message_id, action_type, entity_type, entity_id, target_code, tool_name, description, " +
	"payload, status, snapshot_before, snapshot_after, created_at, executed_at, reverted_at"

func (at *actionsTable) Get(id string) (*types.Action, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	a, err := hydrateAction(at.queryRow("SELECT "+actionColumns+" FROM actions WHERE id = ?", id))
	if err != nil {
		if notFound(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting action %s: %w", id, err)
	}
	return a, nil
}

// Insert stores a new action. New actions are always pending.
func (at *actionsTable) Insert(a *types.Action) error {
	if a.MessageID == "" || !a.ActionType.Valid() || !a.EntityType.Valid() {
		return types.ErrInvalidData
	}
	if a.ID == "" {
		a.ID = generateUUID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Status = types.StatusPending
	if len(a.Payload) == 0 {
		a.Payload = json.RawMessage("{}")
	}

	before, err := marshalSnapshot(a.SnapshotBefore)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(a.SnapshotAfter)
	if err != nil {
		return err
	}

	_, err = at.exec(
		"INSERT INTO actions ("+actionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.MessageID, string(a.ActionType), string(a.EntityType), a.EntityID, a.TargetCode,
		a.ToolName, a.Description, string(a.Payload), string(a.Status), before, after,
		formatTime(a.CreatedAt), formatNullTime(a.ExecutedAt), formatNullTime(a.RevertedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// Owner resolves the owning user through message and thread.
func (at *actionsTable) Owner(id string) (string, error) {
	var userID string
	err := at.queryRow(`SELECT t.user_id FROM actions a
        JOIN messages m ON m.id = a.message_id
        JOIN threads t ON t.id = m.thread_id
        WHERE a.id = ?`, id).Scan(&userID)
	if err != nil {
		if notFound(err) {
			return "", types.ErrNotFound
		}
		return "", fmt.Errorf("resolving action owner: %w", err)
	}
	return userID, nil
}

// Transition performs the compare-and-swap on the status column. Exactly one
// of any number of concurrent callers with the same from status succeeds.
func (at *actionsTable) Transition(id string, from, to types.ActionStatus, ts time.Time) error {
	if !types.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}

	stamp := formatTime(ts)
	res, err := at.exec(`UPDATE actions SET status = ?,
        executed_at = CASE WHEN ? = 'confirmed' THEN ? ELSE executed_at END,
        reverted_at = CASE WHEN ? = 'reverted' THEN ? ELSE reverted_at END
        WHERE id = ? AND status = ?`,
		string(to), string(to), stamp, string(to), stamp, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitioning action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = at.queryRow("SELECT status FROM actions WHERE id = ?", id).Scan(&current)
	if notFound(err) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading action status: %w", err)
	}
	return fmt.Errorf("%w: action is %s, not %s", types.ErrInvalidTransition, current, from)
}

// SaveResult persists the entity reference and snapshots of an action.
func (at *actionsTable) SaveResult(a *types.Action) error {
	before, err := marshalSnapshot(a.SnapshotBefore)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(a.SnapshotAfter)
	if err != nil {
		return err
	}
	res, err := at.exec(
		"UPDATE actions SET entity_id = ?, target_code = ?, snapshot_before = ?, snapshot_after = ? WHERE id = ?",
		a.EntityID, a.TargetCode, before, after, a.ID,
	)
	if err != nil {
		return fmt.Errorf("saving action result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// ListByMessages returns the actions of the given messages in creation order.
// An empty status matches every status.
func (at *actionsTable) ListByMessages(messageIDs []string, status types.ActionStatus) ([]*types.Action, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(messageIDs)+1)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	q := "SELECT " + actionColumns + " FROM actions WHERE message_id IN (" + placeholders(len(messageIDs)) + ")"
	if status != "" {
		q += " AND status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY created_at, id"
	return at.list(q, args...)
}

// ListByThread returns the thread's actions in creation order.
func (at *actionsTable) ListByThread(threadID string, status types.ActionStatus) ([]*types.Action, error) {
	q := "SELECT " + prefixed("a.", actionColumns) + ` FROM actions a
        JOIN messages m ON m.id = a.message_id
        WHERE m.thread_id = ?`
	args := []any{threadID}
	if status != "" {
		q += " AND a.status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY a.created_at, a.id"
	return at.list(q, args...)
}

func (at *actionsTable) list(q string, args ...any) ([]*types.Action, error) {
	rows, err := at.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var out []*types.Action
	for rows.Next() {
		a, err := hydrateAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func hydrateAction(row scanner) (*types.Action, error) {
	var (
		a                      types.Action
		actionType, entityType string
		payload, status        string
		before, after          sql.NullString
		createdAt              string
		executed, reverted     sql.NullString
	)
	if err := row.Scan(&a.ID, &a.MessageID, &actionType, &entityType, &a.EntityID, &a.TargetCode,
		&a.ToolName, &a.Description, &payload, &status, &before, &after,
		&createdAt, &executed, &reverted); err != nil {
		return nil, err
	}
	a.ActionType = types.ActionType(actionType)
	a.EntityType = types.EntityType(entityType)
	a.Payload = json.RawMessage(payload)
	a.Status = types.ActionStatus(status)

	var err error
	if a.SnapshotBefore, err = unmarshalSnapshot(before); err != nil {
		return nil, err
	}
	if a.SnapshotAfter, err = unmarshalSnapshot(after); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.ExecutedAt, err = parseNullTime(executed); err != nil {
		return nil, err
	}
	if a.RevertedAt, err = parseNullTime(reverted); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalSnapshot(s *types.Snapshot) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalSnapshot(ns sql.NullString) (*types.Snapshot, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var s types.Snapshot
	if err := json.Unmarshal([]byte(ns.String), &s); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &s, nil
}
