// Package action executes and inverts confirmed write actions against the
// store, and drives the pending/confirmed/rejected/reverted lifecycle.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// Env is what a handler may touch while it runs. Everything it does through
// Tx commits or rolls back together with the status transition.
type Env struct {
	Ctx       context.Context
	Tx        types.Tx
	Objects   types.ObjectStore
	Allocator *mention.Allocator
	UserID    string
	Now       time.Time
}

// Handler executes one (entity type, action type) pair and knows how to undo
// it. Execute records EntityID and snapshots on the action; Invert reads
// them back.
type Handler interface {
	Execute(env *Env, a *types.Action) error
	Invert(env *Env, a *types.Action) error
}

// HandlerKey selects a handler.
type HandlerKey struct {
	EntityType types.EntityType
	ActionType types.ActionType
}

// HandlerTable maps every pair to its handler.
type HandlerTable map[HandlerKey]Handler

// Lookup returns the handler for the action's pair.
func (t HandlerTable) Lookup(a *types.Action) (Handler, error) {
	h, ok := t[HandlerKey{a.EntityType, a.ActionType}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", types.ErrUnsupportedAction, a.ActionType, a.EntityType)
	}
	return h, nil
}

// NewHandlerTable builds the full table: create, update and delete for each
// entity type.
func NewHandlerTable() HandlerTable {
	t := HandlerTable{}
	register(t, taskOps)
	register(t, projectOps)
	register(t, goalOps)
	register(t, journalOps)
	register(t, memoryOps)
	register(t, fileOps)
	return t
}

func register[T types.Entity](t HandlerTable, ops entityOps[T]) {
	t[HandlerKey{ops.kind, types.ActionCreate}] = &createHandler[T]{ops}
	t[HandlerKey{ops.kind, types.ActionUpdate}] = &updateHandler[T]{ops}
	t[HandlerKey{ops.kind, types.ActionDelete}] = &deleteHandler[T]{ops}
}

// entityOps supplies the per-type pieces the generic handlers need. Optional
// hooks may be nil.
type entityOps[T types.Entity] struct {
	kind  types.EntityType
	build func(env *Env, p types.Payload) (T, error)
	patch func(env *Env, e T, p types.Payload) error
	stamp func(e T, now time.Time, created bool)

	// stored runs after a create is inserted.
	stored func(env *Env, e T, p types.Payload) error
	// detach removes rows that depend on e before it is deleted and records
	// them in snap.
	detach func(env *Env, e T, snap *types.Snapshot) error
	// reattach restores what detach removed.
	reattach func(env *Env, e T, snap *types.Snapshot) error
	// purge drops external state of a created entity whose create is undone.
	purge func(env *Env, e T) error
}

func (o entityOps[T]) table(env *Env) (types.EntityTable, error) {
	return env.Tx.Entities(o.kind)
}

func (o entityOps[T]) load(env *Env, id string) (T, error) {
	var zero T
	tbl, err := o.table(env)
	if err != nil {
		return zero, err
	}
	e, err := tbl.Get(env.UserID, id)
	if err != nil {
		return zero, err
	}
	typed, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected %T", types.ErrInvalidData, e)
	}
	return typed, nil
}

func (o entityOps[T]) decode(snap *types.Snapshot) (T, error) {
	var zero T
	e, err := snap.Decode(o.kind)
	if err != nil {
		return zero, err
	}
	typed, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected %T", types.ErrInvalidData, e)
	}
	return typed, nil
}

// resolve maps a target to an entity id. Coded types go through the
// caller's short codes, so a foreign code is simply not found.
func (o entityOps[T]) resolve(env *Env, target types.Target) (string, error) {
	if !o.kind.AllocatesShortCode() {
		if target.ID == "" {
			return "", types.ErrNotFound
		}
		return target.ID, nil
	}
	ids, err := env.Tx.ShortCodes().Lookup(env.UserID, o.kind, []int{target.Code})
	if err != nil {
		return "", err
	}
	id, ok := ids[target.Code]
	if !ok {
		return "", fmt.Errorf("%s#%d: %w", o.kind, target.Code, types.ErrNotFound)
	}
	return id, nil
}

func (o entityOps[T]) snapshot(env *Env, e T) (*types.Snapshot, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	snap := &types.Snapshot{Entity: raw}
	if o.kind.AllocatesShortCode() {
		code, err := env.Tx.ShortCodes().CodeOf(env.UserID, o.kind, e.EntityID())
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		snap.ShortCode = code
	}
	return snap, nil
}

// remove deletes e with its cascades and short code. snap collects what was
// cascaded; it may be nil when nothing needs to be recorded.
func (o entityOps[T]) remove(env *Env, e T, snap *types.Snapshot) error {
	if snap == nil {
		snap = &types.Snapshot{}
	}
	if o.detach != nil {
		if err := o.detach(env, e, snap); err != nil {
			return err
		}
	}
	if err := env.Allocator.Release(env.Tx, env.UserID, o.kind, e.EntityID()); err != nil {
		return err
	}
	tbl, err := o.table(env)
	if err != nil {
		return err
	}
	return tbl.Delete(env.UserID, e.EntityID())
}

type createHandler[T types.Entity] struct{ ops entityOps[T] }

func (h *createHandler[T]) Execute(env *Env, a *types.Action) error {
	p, err := types.DecodePayload(h.ops.kind, types.ActionCreate, a.Payload)
	if err != nil {
		return err
	}
	e, err := h.ops.build(env, p)
	if err != nil {
		return err
	}
	h.ops.stamp(e, env.Now, true)

	tbl, err := h.ops.table(env)
	if err != nil {
		return err
	}
	id, err := tbl.Insert(e)
	if err != nil {
		return err
	}
	if h.ops.kind.AllocatesShortCode() {
		code, err := env.Allocator.Allocate(env.Tx, env.UserID, h.ops.kind, id)
		if err != nil {
			return err
		}
		a.TargetCode = code
	}
	if h.ops.stored != nil {
		if err := h.ops.stored(env, e, p); err != nil {
			return err
		}
	}

	a.EntityID = id
	a.SnapshotAfter, err = h.ops.snapshot(env, e)
	return err
}

func (h *createHandler[T]) Invert(env *Env, a *types.Action) error {
	if a.EntityID == "" {
		return types.ErrMissingSnapshot
	}
	e, err := h.ops.load(env, a.EntityID)
	if err != nil {
		return err
	}
	if err := h.ops.remove(env, e, nil); err != nil {
		return err
	}
	if h.ops.purge != nil {
		return h.ops.purge(env, e)
	}
	return nil
}

type updateHandler[T types.Entity] struct{ ops entityOps[T] }

func (h *updateHandler[T]) Execute(env *Env, a *types.Action) error {
	p, err := types.DecodePayload(h.ops.kind, types.ActionUpdate, a.Payload)
	if err != nil {
		return err
	}
	id, err := h.ops.resolve(env, p.Target())
	if err != nil {
		return err
	}
	e, err := h.ops.load(env, id)
	if err != nil {
		return err
	}
	if a.SnapshotBefore, err = h.ops.snapshot(env, e); err != nil {
		return err
	}

	if err := h.ops.patch(env, e, p); err != nil {
		return err
	}
	h.ops.stamp(e, env.Now, false)
	tbl, err := h.ops.table(env)
	if err != nil {
		return err
	}
	if err := tbl.Update(e); err != nil {
		return err
	}

	a.EntityID = id
	a.SnapshotAfter, err = h.ops.snapshot(env, e)
	return err
}

func (h *updateHandler[T]) Invert(env *Env, a *types.Action) error {
	before, err := h.ops.decode(a.SnapshotBefore)
	if err != nil {
		return err
	}
	if before.OwnerID() != env.UserID {
		return types.ErrOwnershipViolation
	}
	tbl, err := h.ops.table(env)
	if err != nil {
		return err
	}
	return tbl.Update(before)
}

type deleteHandler[T types.Entity] struct{ ops entityOps[T] }

func (h *deleteHandler[T]) Execute(env *Env, a *types.Action) error {
	p, err := types.DecodePayload(h.ops.kind, types.ActionDelete, a.Payload)
	if err != nil {
		return err
	}
	id, err := h.ops.resolve(env, p.Target())
	if err != nil {
		return err
	}
	e, err := h.ops.load(env, id)
	if err != nil {
		return err
	}
	snap, err := h.ops.snapshot(env, e)
	if err != nil {
		return err
	}
	if err := h.ops.remove(env, e, snap); err != nil {
		return err
	}
	a.EntityID = id
	a.SnapshotBefore = snap
	return nil
}

func (h *deleteHandler[T]) Invert(env *Env, a *types.Action) error {
	before, err := h.ops.decode(a.SnapshotBefore)
	if err != nil {
		return err
	}
	if before.OwnerID() != env.UserID {
		return types.ErrOwnershipViolation
	}
	tbl, err := h.ops.table(env)
	if err != nil {
		return err
	}
	if _, err := tbl.Insert(before); err != nil {
		return err
	}
	if err := env.Allocator.Restore(env.Tx, env.UserID, h.ops.kind, before.EntityID(), a.SnapshotBefore.ShortCode); err != nil {
		return err
	}
	if h.ops.reattach != nil {
		return h.ops.reattach(env, before, a.SnapshotBefore)
	}
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
