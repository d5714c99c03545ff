package sqlite

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.BotLinkTable = (*botLinksTable)(nil)

type botLinksTable struct {
	*txn
}

func (bt *botLinksTable) Get(chatID int64) (*types.BotLink, error) {
	var (
		l         types.BotLink
		createdAt string
	)
	err := bt.queryRow("SELECT chat_id, user_id, created_at FROM bot_links WHERE chat_id = ?", chatID).
		Scan(&l.ChatID, &l.UserID, &createdAt)
	if err != nil {
		if notFound(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting bot link: %w", err)
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// Set links a chat to a user. Linking a chat again to the same user is a
// no-op; a chat linked to a different user returns ErrChatLinked.
func (bt *botLinksTable) Set(l *types.BotLink) error {
	if l.ChatID == 0 || l.UserID == "" {
		return types.ErrInvalidData
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	res, err := bt.exec(`INSERT INTO bot_links (chat_id, user_id, created_at) VALUES (?, ?, ?)
        ON CONFLICT (chat_id) DO NOTHING`,
		l.ChatID, l.UserID, formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("setting bot link: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}
	existing, err := bt.Get(l.ChatID)
	if err != nil {
		return err
	}
	if existing.UserID != l.UserID {
		return types.ErrChatLinked
	}
	return nil
}

func (bt *botLinksTable) Delete(chatID int64) error {
	_, err := bt.exec("DELETE FROM bot_links WHERE chat_id = ?", chatID)
	if err != nil {
		return fmt.Errorf("deleting bot link: %w", err)
	}
	return nil
}
