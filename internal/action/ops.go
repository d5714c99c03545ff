package action

import (
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var errNoObjectStore = errors.New("no object store configured")

func payloadAs[P types.Payload](p types.Payload) (P, error) {
	typed, ok := p.(P)
	if !ok {
		return typed, fmt.Errorf("%w: unexpected payload %T", types.ErrToolArgument, p)
	}
	return typed, nil
}

// projectID resolves a project short code for the acting user.
func projectID(env *Env, code int) (string, error) {
	ids, err := env.Tx.ShortCodes().Lookup(env.UserID, types.EntityProject, []int{code})
	if err != nil {
		return "", err
	}
	id, ok := ids[code]
	if !ok {
		return "", fmt.Errorf("project#%d: %w", code, types.ErrNotFound)
	}
	return id, nil
}

var taskOps = entityOps[*types.Task]{
	kind: types.EntityTask,
	build: func(env *Env, p types.Payload) (*types.Task, error) {
		in, err := payloadAs[*types.TaskInput](p)
		if err != nil {
			return nil, err
		}
		t := in.Build(env.UserID)
		t.ID = newID()
		if in.ProjectCode > 0 {
			if t.ProjectID, err = projectID(env, in.ProjectCode); err != nil {
				return nil, err
			}
		}
		return t, nil
	},
	patch: func(env *Env, t *types.Task, p types.Payload) error {
		in, err := payloadAs[*types.TaskPatch](p)
		if err != nil {
			return err
		}
		in.Apply(t)
		if in.ProjectCode != nil {
			if *in.ProjectCode <= 0 {
				t.ProjectID = ""
			} else if t.ProjectID, err = projectID(env, *in.ProjectCode); err != nil {
				return err
			}
		}
		return nil
	},
	stamp: func(t *types.Task, now time.Time, created bool) {
		if created {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
	},
	detach: func(env *Env, t *types.Task, snap *types.Snapshot) error {
		links, err := env.Tx.Links().ListForTask(env.UserID, t.ID)
		if err != nil {
			return err
		}
		snap.Links = links
		return env.Tx.Links().DeleteForTask(env.UserID, t.ID)
	},
	reattach: func(env *Env, _ *types.Task, snap *types.Snapshot) error {
		for i := range snap.Links {
			if err := env.Tx.Links().Insert(&snap.Links[i]); err != nil {
				return err
			}
		}
		return nil
	},
}

var projectOps = entityOps[*types.Project]{
	kind: types.EntityProject,
	build: func(env *Env, p types.Payload) (*types.Project, error) {
		in, err := payloadAs[*types.ProjectInput](p)
		if err != nil {
			return nil, err
		}
		pr := in.Build(env.UserID)
		pr.ID = newID()
		return pr, nil
	},
	patch: func(_ *Env, pr *types.Project, p types.Payload) error {
		in, err := payloadAs[*types.ProjectPatch](p)
		if err != nil {
			return err
		}
		in.Apply(pr)
		return nil
	},
	stamp: func(pr *types.Project, now time.Time, created bool) {
		if created {
			pr.CreatedAt = now
		}
		pr.UpdatedAt = now
	},
	detach: func(env *Env, pr *types.Project, snap *types.Snapshot) error {
		tasks, err := env.Tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		members, err := tasks.Fetch(env.UserID, map[string]any{"projectId": pr.ID})
		if err != nil {
			return err
		}
		for _, e := range members {
			t := e.(*types.Task)
			t.ProjectID = ""
			if err := tasks.Update(t); err != nil {
				return err
			}
			snap.Unlinked = append(snap.Unlinked, t.ID)
		}
		return nil
	},
	reattach: func(env *Env, pr *types.Project, snap *types.Snapshot) error {
		tasks, err := env.Tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		for _, id := range snap.Unlinked {
			e, err := tasks.Get(env.UserID, id)
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			t := e.(*types.Task)
			if t.ProjectID != "" {
				continue
			}
			t.ProjectID = pr.ID
			if err := tasks.Update(t); err != nil {
				return err
			}
		}
		return nil
	},
}

var goalOps = entityOps[*types.Goal]{
	kind: types.EntityGoal,
	build: func(env *Env, p types.Payload) (*types.Goal, error) {
		in, err := payloadAs[*types.GoalInput](p)
		if err != nil {
			return nil, err
		}
		g := in.Build(env.UserID)
		g.ID = newID()
		return g, nil
	},
	patch: func(_ *Env, g *types.Goal, p types.Payload) error {
		in, err := payloadAs[*types.GoalPatch](p)
		if err != nil {
			return err
		}
		in.Apply(g)
		return nil
	},
	stamp: func(g *types.Goal, now time.Time, created bool) {
		if created {
			g.CreatedAt = now
		}
		g.UpdatedAt = now
	},
}

var journalOps = entityOps[*types.JournalEntry]{
	kind: types.EntityJournal,
	build: func(env *Env, p types.Payload) (*types.JournalEntry, error) {
		in, err := payloadAs[*types.JournalInput](p)
		if err != nil {
			return nil, err
		}
		j := in.Build(env.UserID)
		j.ID = newID()
		return j, nil
	},
	patch: func(_ *Env, j *types.JournalEntry, p types.Payload) error {
		in, err := payloadAs[*types.JournalPatch](p)
		if err != nil {
			return err
		}
		in.Apply(j)
		return nil
	},
	stamp: func(j *types.JournalEntry, now time.Time, created bool) {
		if created {
			j.CreatedAt = now
		}
	},
}

var memoryOps = entityOps[*types.Memory]{
	kind: types.EntityMemory,
	build: func(env *Env, p types.Payload) (*types.Memory, error) {
		in, err := payloadAs[*types.MemoryInput](p)
		if err != nil {
			return nil, err
		}
		m := in.Build(env.UserID)
		m.ID = newID()
		return m, nil
	},
	patch: func(_ *Env, m *types.Memory, p types.Payload) error {
		in, err := payloadAs[*types.MemoryPatch](p)
		if err != nil {
			return err
		}
		in.Apply(m)
		return nil
	},
	stamp: func(m *types.Memory, now time.Time, created bool) {
		if created {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
	},
}

var fileOps = entityOps[*types.File]{
	kind: types.EntityFile,
	build: func(env *Env, p types.Payload) (*types.File, error) {
		in, err := payloadAs[*types.FileInput](p)
		if err != nil {
			return nil, err
		}
		if env.Objects == nil {
			return nil, errNoObjectStore
		}
		f := in.Build(env.UserID)
		f.ID = newID()
		f.StoragePath = f.ID
		return f, nil
	},
	patch: func(_ *Env, f *types.File, p types.Payload) error {
		in, err := payloadAs[*types.FilePatch](p)
		if err != nil {
			return err
		}
		in.Apply(f)
		return nil
	},
	stamp: func(f *types.File, now time.Time, created bool) {
		if created {
			f.CreatedAt = now
		}
	},
	stored: func(env *Env, f *types.File, p types.Payload) error {
		in, err := payloadAs[*types.FileInput](p)
		if err != nil {
			return err
		}
		return env.Objects.Put(env.Ctx, f.StoragePath, []byte(in.Content))
	},
	detach: func(env *Env, f *types.File, snap *types.Snapshot) error {
		if env.Objects == nil || f.StoragePath == "" {
			return nil
		}
		snap.Object = f.StoragePath
		return env.Objects.Trash(env.Ctx, f.StoragePath)
	},
	reattach: func(env *Env, _ *types.File, snap *types.Snapshot) error {
		if snap.Object == "" {
			return nil
		}
		if env.Objects == nil {
			return errNoObjectStore
		}
		return env.Objects.Restore(env.Ctx, snap.Object)
	},
	purge: func(env *Env, f *types.File) error {
		if env.Objects == nil || f.StoragePath == "" {
			return nil
		}
		return env.Objects.Remove(env.Ctx, f.StoragePath)
	},
}
