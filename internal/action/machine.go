package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// Machine drives actions through their lifecycle. Each transition runs in a
// single write transaction: the ownership check, the compare-and-swap on the
// status, the handler and the persisted snapshots commit or roll back
// together, so a failed confirm leaves the action pending.
type Machine struct {
	store     types.Store
	objects   types.ObjectStore
	handlers  HandlerTable
	allocator *mention.Allocator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics sets the collectors transitions are counted on.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithObjects sets the store for file payloads.
func WithObjects(o types.ObjectStore) Option {
	return func(m *Machine) { m.objects = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine returns a Machine over store.
func NewMachine(store types.Store, opts ...Option) *Machine {
	m := &Machine{
		store:    store,
		handlers: NewHandlerTable(),
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.allocator == nil {
		m.allocator = mention.NewAllocator(m.logger)
	}
	return m
}

// Confirm executes a pending action.
func (m *Machine) Confirm(ctx context.Context, userID, actionID string) (*types.Action, error) {
	return m.transition(ctx, userID, actionID, types.StatusPending, types.StatusConfirmed, Handler.Execute)
}

// Reject discards a pending action. Nothing is executed.
func (m *Machine) Reject(ctx context.Context, userID, actionID string) (*types.Action, error) {
	return m.transition(ctx, userID, actionID, types.StatusPending, types.StatusRejected, nil)
}

// Revert undoes a confirmed action from its snapshots.
func (m *Machine) Revert(ctx context.Context, userID, actionID string) (*types.Action, error) {
	return m.transition(ctx, userID, actionID, types.StatusConfirmed, types.StatusReverted, Handler.Invert)
}

// Get returns an action owned by userID.
func (m *Machine) Get(ctx context.Context, userID, actionID string) (*types.Action, error) {
	var a *types.Action
	err := m.store.View(ctx, func(tx types.Tx) error {
		if err := checkOwner(tx, userID, actionID); err != nil {
			return err
		}
		var err error
		a, err = tx.Actions().Get(actionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListPending returns the pending actions of a thread owned by userID, in
// proposal order.
func (m *Machine) ListPending(ctx context.Context, userID, threadID string) ([]*types.Action, error) {
	return m.List(ctx, userID, threadID, types.StatusPending)
}

// List returns a thread's actions filtered by status; an empty status lists
// all of them.
func (m *Machine) List(ctx context.Context, userID, threadID string, status types.ActionStatus) ([]*types.Action, error) {
	var out []*types.Action
	err := m.store.View(ctx, func(tx types.Tx) error {
		th, err := tx.Threads().Get(threadID)
		if err != nil {
			return err
		}
		if th.UserID != userID {
			return types.ErrOwnershipViolation
		}
		out, err = tx.Actions().ListByThread(threadID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Machine) transition(ctx context.Context, userID, actionID string, from, to types.ActionStatus,
	run func(Handler, *Env, *types.Action) error) (*types.Action, error) {
	if userID == "" {
		return nil, types.ErrAuthRequired
	}
	var result *types.Action
	err := m.store.Update(ctx, func(tx types.Tx) error {
		if err := checkOwner(tx, userID, actionID); err != nil {
			return err
		}
		now := m.now()
		if err := tx.Actions().Transition(actionID, from, to, now); err != nil {
			return err
		}
		a, err := tx.Actions().Get(actionID)
		if err != nil {
			return err
		}
		if run != nil {
			h, err := m.handlers.Lookup(a)
			if err != nil {
				return err
			}
			env := &Env{Ctx: ctx, Tx: tx, Objects: m.objects, Allocator: m.allocator, UserID: userID, Now: now}
			if err := run(h, env, a); err != nil {
				return fmt.Errorf("%s %s %s: %w", to, a.ActionType, a.EntityType, err)
			}
			if err := tx.Actions().SaveResult(a); err != nil {
				return err
			}
		}
		result = a
		return nil
	})
	if err != nil {
		m.logger.Info("action transition failed",
			zap.String("action_id", actionID),
			zap.String("to", string(to)),
			zap.Error(err))
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.ActionTransitions.WithLabelValues(string(to), string(result.EntityType)).Inc()
	}
	m.logger.Info("action transitioned",
		zap.String("action_id", actionID),
		zap.String("entity_type", string(result.EntityType)),
		zap.String("entity_id", result.EntityID),
		zap.String("to", string(to)))
	return result, nil
}

func checkOwner(tx types.Tx, userID, actionID string) error {
	owner, err := tx.Actions().Owner(actionID)
	if errors.Is(err, types.ErrNotFound) {
		return types.ErrActionNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return types.ErrOwnershipViolation
	}
	return nil
}
