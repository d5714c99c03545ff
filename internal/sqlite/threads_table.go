package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.ThreadTable = (*threadsTable)(nil)

type threadsTable struct {
	*txn
}

const threadColumns = "id, user_id, anchor_path, title, archived_at, created_at, updated_at"

// Get retrieves a thread by ID.
func (tt *threadsTable) Get(id string) (*types.Thread, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	th, err := hydrateThread(tt.queryRow("SELECT "+threadColumns+" FROM threads WHERE id = ?", id))
	if err != nil {
		if notFound(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting thread %s: %w", id, err)
	}
	return th, nil
}

// Insert stores a new thread, generating an ID when empty.
func (tt *threadsTable) Insert(th *types.Thread) error {
	if th.UserID == "" {
		return types.ErrInvalidData
	}
	if th.ID == "" {
		th.ID = generateUUID()
	}
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	if th.UpdatedAt.IsZero() {
		th.UpdatedAt = th.CreatedAt
	}
	_, err := tt.exec(
		"INSERT INTO threads ("+threadColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		th.ID, th.UserID, th.AnchorPath, th.Title, formatNullTime(th.ArchivedAt),
		formatTime(th.CreatedAt), formatTime(th.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting thread: %w", types.ErrAllocationConflict)
		}
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

// FindByAnchor returns the user's unarchived thread for an anchor path.
func (tt *threadsTable) FindByAnchor(userID, anchorPath string) (*types.Thread, error) {
	th, err := hydrateThread(tt.queryRow(
		"SELECT "+threadColumns+" FROM threads WHERE user_id = ? AND anchor_path = ? AND archived_at IS NULL",
		userID, anchorPath,
	))
	if err != nil {
		if notFound(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("finding thread by anchor: %w", err)
	}
	return th, nil
}

// List returns the user's threads, most recently updated first.
func (tt *threadsTable) List(userID string, includeArchived bool) ([]*types.Thread, error) {
	q := "SELECT " + threadColumns + " FROM threads WHERE user_id = ?"
	if !includeArchived {
		q += " AND archived_at IS NULL"
	}
	q += " ORDER BY updated_at DESC, id DESC"

	rows, err := tt.query(q, userID)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var out []*types.Thread
	for rows.Next() {
		th, err := hydrateThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

func (tt *threadsTable) SetTitle(id, title string, at time.Time) error {
	return tt.update("UPDATE threads SET title = ?, updated_at = ? WHERE id = ?", title, formatTime(at), id)
}

func (tt *threadsTable) Archive(id string, at time.Time) error {
	ts := formatTime(at)
	return tt.update("UPDATE threads SET archived_at = ?, updated_at = ? WHERE id = ?", ts, ts, id)
}

func (tt *threadsTable) Touch(id string, at time.Time) error {
	return tt.update("UPDATE threads SET updated_at = ? WHERE id = ?", formatTime(at), id)
}

func (tt *threadsTable) update(q string, args ...any) error {
	res, err := tt.exec(q, args...)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func hydrateThread(row scanner) (*types.Thread, error) {
	var (
		th                   types.Thread
		archived             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&th.ID, &th.UserID, &th.AnchorPath, &th.Title, &archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if th.ArchivedAt, err = parseNullTime(archived); err != nil {
		return nil, err
	}
	if th.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if th.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &th, nil
}
