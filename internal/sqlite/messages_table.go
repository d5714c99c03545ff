package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.MessageTable = (*messagesTable)(nil)

type messagesTable struct {
	*txn
}

const messageColumns = "id, thread_id, role, content, tool_calls, model, prompt_tokens, completion_tokens, created_at, deleted_at"

func (mt *messagesTable) Get(id string) (*types.Message, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	m, err := hydrateMessage(mt.queryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if err != nil {
		if notFound(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return m, nil
}

// Append stores m with a timestamp strictly after every other message in
// its thread. Two appends in the same nanosecond still order by call.
func (mt *messagesTable) Append(m *types.Message) error {
	if m.ThreadID == "" || m.Role == "" {
		return types.ErrInvalidData
	}
	if m.ID == "" {
		m.ID = generateUUID()
	}

	var last int64
	if err := mt.queryRow(
		"SELECT COALESCE(MAX(created_at), 0) FROM messages WHERE thread_id = ?", m.ThreadID,
	).Scan(&last); err != nil {
		return fmt.Errorf("reading last message time: %w", err)
	}

	ts := time.Now().UTC().UnixNano()
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.UnixNano()
	}
	if ts <= last {
		ts = last + 1
	}
	m.CreatedAt = time.Unix(0, ts).UTC()

	var toolCalls sql.NullString
	if len(m.ToolCalls) > 0 {
		toolCalls = sql.NullString{String: string(m.ToolCalls), Valid: true}
	}

	_, err := mt.exec(
		"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.ThreadID, string(m.Role), m.Content, toolCalls, m.Model,
		m.PromptTokens, m.CompletionTokens, ts, formatNullTime(m.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// ListActive returns the thread's active messages in order.
func (mt *messagesTable) ListActive(threadID string, limit int) ([]*types.Message, error) {
	q := "SELECT " + messageColumns + " FROM messages WHERE thread_id = ? AND deleted_at IS NULL ORDER BY created_at"
	args := []any{threadID}
	if limit > 0 {
		q = "SELECT * FROM (SELECT " + messageColumns +
			" FROM messages WHERE thread_id = ? AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ?) ORDER BY created_at"
		args = append(args, limit)
	}

	rows, err := mt.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := hydrateMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SoftDeleteFrom marks active messages at or after from as deleted.
func (mt *messagesTable) SoftDeleteFrom(threadID string, from, at time.Time) ([]string, error) {
	rows, err := mt.query(
		"SELECT id FROM messages WHERE thread_id = ? AND created_at >= ? AND deleted_at IS NULL ORDER BY created_at",
		threadID, from.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("selecting messages to delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := []any{formatTime(at)}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := mt.exec(
		"UPDATE messages SET deleted_at = ? WHERE id IN ("+placeholders(len(ids))+")", args...,
	); err != nil {
		return nil, fmt.Errorf("soft-deleting messages: %w", err)
	}
	return ids, nil
}

func hydrateMessage(row scanner) (*types.Message, error) {
	var (
		m         types.Message
		role      string
		toolCalls sql.NullString
		createdAt int64
		deleted   sql.NullString
	)
	if err := row.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &toolCalls, &m.Model,
		&m.PromptTokens, &m.CompletionTokens, &createdAt, &deleted); err != nil {
		return nil, err
	}
	m.Role = types.Role(role)
	if toolCalls.Valid {
		m.ToolCalls = []byte(toolCalls.String)
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	var err error
	if m.DeletedAt, err = parseNullTime(deleted); err != nil {
		return nil, err
	}
	return &m, nil
}
