package sqlite

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.LinkTable = (*linksTable)(nil)

type linksTable struct {
	*txn
}

var validLinkTypes = map[string]bool{
	types.LinkBlocks:  true,
	types.LinkRelated: true,
	types.LinkSubtask: true,
}

// Insert stores a task link. A link keeps its ID when restored.
func (lt *linksTable) Insert(l *types.TaskLink) error {
	if !validLinkTypes[l.LinkType] {
		return types.ErrInvalidData
	}
	if l.UserID == "" || l.TaskAID == "" || l.TaskBID == "" {
		return types.ErrInvalidData
	}
	if l.ID == "" {
		l.ID = generateUUID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := lt.exec(
		"INSERT INTO task_links (id, user_id, task_a_id, task_b_id, link_type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		l.ID, l.UserID, l.TaskAID, l.TaskBID, l.LinkType, formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting task link: %w", err)
	}
	return nil
}

// ListForTask returns every link touching the task on either side.
func (lt *linksTable) ListForTask(userID, taskID string) ([]types.TaskLink, error) {
	rows, err := lt.query(`SELECT id, user_id, task_a_id, task_b_id, link_type, created_at FROM task_links
        WHERE user_id = ? AND (task_a_id = ? OR task_b_id = ?) ORDER BY created_at, id`,
		userID, taskID, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing task links: %w", err)
	}
	defer rows.Close()

	var out []types.TaskLink
	for rows.Next() {
		var (
			l         types.TaskLink
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.TaskAID, &l.TaskBID, &l.LinkType, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteForTask removes every link touching the task.
func (lt *linksTable) DeleteForTask(userID, taskID string) error {
	_, err := lt.exec(
		"DELETE FROM task_links WHERE user_id = ? AND (task_a_id = ? OR task_b_id = ?)",
		userID, taskID, taskID,
	)
	if err != nil {
		return fmt.Errorf("deleting task links: %w", err)
	}
	return nil
}
