// Package history manages conversation threads and their messages: lazy
// thread creation per anchor, ordered history, and edit-and-branch.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Manager reads and writes thread history for one store.
type Manager struct {
	store  types.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager over store.
func NewManager(store types.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ownedThread loads a thread and checks that userID owns it.
func ownedThread(tx types.Tx, userID, threadID string) (*types.Thread, error) {
	th, err := tx.Threads().Get(threadID)
	if err != nil {
		return nil, err
	}
	if th.UserID != userID {
		return nil, types.ErrOwnershipViolation
	}
	return th, nil
}

// ThreadFor returns the thread a turn should use. An explicit threadID must
// belong to userID and be unarchived. Otherwise the user's unarchived thread
// for anchorPath is reused or created; an empty anchor always starts a new
// thread.
func (m *Manager) ThreadFor(ctx context.Context, userID, threadID, anchorPath string) (*types.Thread, error) {
	if userID == "" {
		return nil, types.ErrAuthRequired
	}
	var th *types.Thread
	err := m.store.Update(ctx, func(tx types.Tx) error {
		var err error
		th, err = threadFor(tx, userID, threadID, anchorPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

func threadFor(tx types.Tx, userID, threadID, anchorPath string) (*types.Thread, error) {
	if threadID != "" {
		th, err := ownedThread(tx, userID, threadID)
		if err != nil {
			return nil, err
		}
		if th.ArchivedAt != nil {
			return nil, types.ErrThreadArchived
		}
		return th, nil
	}

	if anchorPath != "" {
		th, err := tx.Threads().FindByAnchor(userID, anchorPath)
		if err == nil {
			return th, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	th := &types.Thread{UserID: userID, AnchorPath: anchorPath}
	err := tx.Threads().Insert(th)
	if errors.Is(err, types.ErrAllocationConflict) && anchorPath != "" {
		return tx.Threads().FindByAnchor(userID, anchorPath)
	}
	if err != nil {
		return nil, err
	}
	return th, nil
}

// CreateThread starts a new thread. A thread for an anchor that already has
// an unarchived thread is rejected with ErrAllocationConflict.
func (m *Manager) CreateThread(ctx context.Context, userID, anchorPath, title string) (*types.Thread, error) {
	if userID == "" {
		return nil, types.ErrAuthRequired
	}
	th := &types.Thread{UserID: userID, AnchorPath: anchorPath, Title: strings.TrimSpace(title)}
	err := m.store.Update(ctx, func(tx types.Tx) error {
		return tx.Threads().Insert(th)
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

// ListThreads returns the user's threads, most recently active first.
func (m *Manager) ListThreads(ctx context.Context, userID string, includeArchived bool) ([]*types.Thread, error) {
	var out []*types.Thread
	err := m.store.View(ctx, func(tx types.Tx) error {
		var err error
		out, err = tx.Threads().List(userID, includeArchived)
		return err
	})
	return out, err
}

// Archive hides a thread and frees its anchor for a new thread.
func (m *Manager) Archive(ctx context.Context, userID, threadID string) error {
	return m.store.Update(ctx, func(tx types.Tx) error {
		if _, err := ownedThread(tx, userID, threadID); err != nil {
			return err
		}
		return tx.Threads().Archive(threadID, m.now())
	})
}

// Rename sets a thread's title.
func (m *Manager) Rename(ctx context.Context, userID, threadID, title string) error {
	return m.store.Update(ctx, func(tx types.Tx) error {
		if _, err := ownedThread(tx, userID, threadID); err != nil {
			return err
		}
		return tx.Threads().SetTitle(threadID, strings.TrimSpace(title), m.now())
	})
}

// Append adds a message to a thread owned by userID.
func (m *Manager) Append(ctx context.Context, userID string, msg *types.Message) error {
	return m.AppendWithActions(ctx, userID, msg, nil)
}

// AppendWithActions adds a message and the actions it proposes in one
// transaction, so proposals never exist without their message. Actions are
// stored in slice order.
func (m *Manager) AppendWithActions(ctx context.Context, userID string, msg *types.Message, actions []*types.Action) error {
	return m.store.Update(ctx, func(tx types.Tx) error {
		th, err := ownedThread(tx, userID, msg.ThreadID)
		if err != nil {
			return err
		}
		if th.ArchivedAt != nil {
			return types.ErrThreadArchived
		}
		if err := tx.Messages().Append(msg); err != nil {
			return err
		}
		now := m.now()
		for i, a := range actions {
			a.MessageID = msg.ID
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
			}
			if err := tx.Actions().Insert(a); err != nil {
				return err
			}
		}
		if th.Title == "" && msg.Role == types.RoleUser {
			return tx.Threads().SetTitle(th.ID, types.TruncateTitle(msg.Content), now)
		}
		return tx.Threads().Touch(th.ID, now)
	})
}

// LoadActive returns the thread's non-deleted messages in order. A positive
// limit keeps only the most recent messages.
func (m *Manager) LoadActive(ctx context.Context, userID, threadID string, limit int) ([]*types.Message, error) {
	var out []*types.Message
	err := m.store.View(ctx, func(tx types.Tx) error {
		if _, err := ownedThread(tx, userID, threadID); err != nil {
			return err
		}
		var err error
		out, err = tx.Messages().ListActive(threadID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BranchResult reports what an edit removed.
type BranchResult struct {
	ThreadID          string         `json:"threadId"`
	Original          *types.Message `json:"original"`
	DeletedMessageIDs []string       `json:"deletedMessageIds"`
	RejectedActionIDs []string       `json:"rejectedActionIds"`
}

// EditAndBranch prepares a user message for re-submission. The message and
// every later message are soft-deleted and their pending actions rejected.
// Earlier messages and their actions are untouched.
func (m *Manager) EditAndBranch(ctx context.Context, userID, messageID string) (*BranchResult, error) {
	if userID == "" {
		return nil, types.ErrAuthRequired
	}
	res := &BranchResult{}
	err := m.store.Update(ctx, func(tx types.Tx) error {
		msg, err := tx.Messages().Get(messageID)
		if err != nil {
			return err
		}
		if _, err := ownedThread(tx, userID, msg.ThreadID); err != nil {
			return err
		}
		if !msg.Active() {
			return fmt.Errorf("message %s: %w", messageID, types.ErrNotFound)
		}
		if msg.Role != types.RoleUser {
			return types.ErrInvalidMessageRole
		}

		now := m.now()
		deleted, err := tx.Messages().SoftDeleteFrom(msg.ThreadID, msg.CreatedAt, now)
		if err != nil {
			return err
		}
		pending, err := tx.Actions().ListByMessages(deleted, types.StatusPending)
		if err != nil {
			return err
		}
		for _, a := range pending {
			err := tx.Actions().Transition(a.ID, types.StatusPending, types.StatusRejected, now)
			if errors.Is(err, types.ErrInvalidTransition) {
				continue
			}
			if err != nil {
				return err
			}
			res.RejectedActionIDs = append(res.RejectedActionIDs, a.ID)
		}
		if err := tx.Threads().Touch(msg.ThreadID, now); err != nil {
			return err
		}

		res.ThreadID = msg.ThreadID
		res.Original = msg
		res.DeletedMessageIDs = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("branched thread",
		zap.String("thread_id", res.ThreadID),
		zap.Int("deleted_messages", len(res.DeletedMessageIDs)),
		zap.Int("rejected_actions", len(res.RejectedActionIDs)))
	return res, nil
}
