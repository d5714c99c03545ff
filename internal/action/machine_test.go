package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/internal/objects"
	"github.com/mesh-intelligence/journey/internal/sqlite"
	"github.com/mesh-intelligence/journey/pkg/types"
)

const owner = "u1"

type fixture struct {
	dir     string
	store   *sqlite.Backend
	objects *objects.Store
	metrics *metrics.Metrics
	machine *Machine
	msgID   string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	objs, err := objects.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { objs.Close() })

	f := &fixture{dir: dir, store: store, objects: objs, metrics: metrics.New()}
	f.machine = NewMachine(store, WithObjects(objs), WithMetrics(f.metrics))

	require.NoError(t, store.Update(context.Background(), func(tx types.Tx) error {
		th := &types.Thread{UserID: owner}
		if err := tx.Threads().Insert(th); err != nil {
			return err
		}
		m := &types.Message{ThreadID: th.ID, Role: types.RoleAssistant, Content: "proposing"}
		if err := tx.Messages().Append(m); err != nil {
			return err
		}
		f.msgID = m.ID
		return nil
	}))
	return f
}

func (f *fixture) propose(t *testing.T, kind types.EntityType, act types.ActionType, payload string) *types.Action {
	t.Helper()
	a := &types.Action{
		MessageID:  f.msgID,
		ActionType: act,
		EntityType: kind,
		ToolName:   fmt.Sprintf("%s:%s", act, kind),
		Payload:    json.RawMessage(payload),
	}
	require.NoError(t, f.store.Update(context.Background(), func(tx types.Tx) error {
		return tx.Actions().Insert(a)
	}))
	return a
}

func (f *fixture) confirm(t *testing.T, kind types.EntityType, act types.ActionType, payload string) *types.Action {
	t.Helper()
	a, err := f.machine.Confirm(context.Background(), owner, f.propose(t, kind, act, payload).ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) get(t *testing.T, kind types.EntityType, id string) (types.Entity, error) {
	t.Helper()
	var e types.Entity
	err := f.store.View(context.Background(), func(tx types.Tx) error {
		tbl, err := tx.Entities(kind)
		if err != nil {
			return err
		}
		e, err = tbl.Get(owner, id)
		return err
	})
	return e, err
}

func TestConfirm_CreateTaskAllocatesFirstCode(t *testing.T) {
	f := setup(t)
	a := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"Buy milk"}`)

	assert.Equal(t, types.StatusConfirmed, a.Status)
	require.NotNil(t, a.ExecutedAt)
	require.NotEmpty(t, a.EntityID)
	assert.Equal(t, 1, a.TargetCode)
	require.NotNil(t, a.SnapshotAfter)
	assert.Equal(t, 1, a.SnapshotAfter.ShortCode)

	e, err := f.get(t, types.EntityTask, a.EntityID)
	require.NoError(t, err)
	task := e.(*types.Task)
	assert.Equal(t, "Buy milk", task.Title)
	assert.Equal(t, types.TaskBacklog, task.Status)
	assert.Equal(t, owner, task.UserID)

	stored, err := f.machine.Get(context.Background(), owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.EntityID, stored.EntityID)
	assert.Equal(t, 1, stored.TargetCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActionTransitions.WithLabelValues("confirmed", "task")))
}

func TestLifecycle_EveryPairRoundTrips(t *testing.T) {
	tests := []struct {
		kind   types.EntityType
		create string
		update func(target string) string
		delete func(target string) string
	}{
		{
			kind:   types.EntityTask,
			create: `{"title":"Buy milk","domain":"chores","scheduledFor":"2026-03-01"}`,
			update: func(c string) string { return `{"taskCode":` + c + `,"status":"done"}` },
			delete: func(c string) string { return `{"taskCode":` + c + `}` },
		},
		{
			kind:   types.EntityProject,
			create: `{"name":"Garden"}`,
			update: func(c string) string { return `{"projectCode":` + c + `,"status":"completed"}` },
			delete: func(c string) string { return `{"projectCode":` + c + `}` },
		},
		{
			kind:   types.EntityGoal,
			create: `{"title":"Run a marathon"}`,
			update: func(c string) string { return `{"goalCode":` + c + `,"horizon":"year"}` },
			delete: func(c string) string { return `{"goalCode":` + c + `}` },
		},
		{
			kind:   types.EntityJournal,
			create: `{"content":"Good day"}`,
			update: func(c string) string { return `{"journalCode":` + c + `,"content":"Great day"}` },
			delete: func(c string) string { return `{"journalCode":` + c + `}` },
		},
		{
			kind:   types.EntityMemory,
			create: `{"content":"Likes tea","tags":["food"]}`,
			update: func(c string) string { return `{"memoryCode":` + c + `,"tags":["drink"]}` },
			delete: func(c string) string { return `{"memoryCode":` + c + `}` },
		},
		{
			kind:   types.EntityFile,
			create: `{"filename":"notes.txt","content":"hello"}`,
			update: func(id string) string { return `{"fileId":"` + id + `","filename":"renamed.txt"}` },
			delete: func(id string) string { return `{"fileId":"` + id + `"}` },
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()

			created := f.confirm(t, tt.kind, types.ActionCreate, tt.create)
			target := created.EntityID
			if tt.kind.AllocatesShortCode() {
				target = fmt.Sprint(created.TargetCode)
			}
			original, err := f.get(t, tt.kind, created.EntityID)
			require.NoError(t, err)

			updated := f.confirm(t, tt.kind, types.ActionUpdate, tt.update(target))
			assert.Equal(t, created.EntityID, updated.EntityID)
			require.NotNil(t, updated.SnapshotBefore)
			changed, err := f.get(t, tt.kind, created.EntityID)
			require.NoError(t, err)
			assert.NotEmpty(t, cmp.Diff(original, changed), "update changes the row")

			_, err = f.machine.Revert(ctx, owner, updated.ID)
			require.NoError(t, err)
			restored, err := f.get(t, tt.kind, created.EntityID)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(original, restored), "revert of update restores the row")

			deleted := f.confirm(t, tt.kind, types.ActionDelete, tt.delete(target))
			_, err = f.get(t, tt.kind, created.EntityID)
			require.ErrorIs(t, err, types.ErrNotFound)

			reverted, err := f.machine.Revert(ctx, owner, deleted.ID)
			require.NoError(t, err)
			assert.Equal(t, types.StatusReverted, reverted.Status)
			require.NotNil(t, reverted.RevertedAt)
			back, err := f.get(t, tt.kind, created.EntityID)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(original, back), "revert of delete restores the row")

			if tt.kind == types.EntityFile {
				data, err := f.objects.Get(ctx, created.EntityID)
				require.NoError(t, err)
				assert.Equal(t, "hello", string(data))
			} else {
				// The short code comes back with the row.
				again := f.confirm(t, tt.kind, types.ActionUpdate, tt.update(target))
				assert.Equal(t, created.EntityID, again.EntityID)
				_, err = f.machine.Revert(ctx, owner, again.ID)
				require.NoError(t, err)
			}

			_, err = f.machine.Revert(ctx, owner, created.ID)
			require.NoError(t, err)
			_, err = f.get(t, tt.kind, created.EntityID)
			assert.ErrorIs(t, err, types.ErrNotFound, "revert of create removes the row")
		})
	}
}

func TestConfirm_ConcurrentConfirmExecutesOnce(t *testing.T) {
	f := setup(t)
	a := f.propose(t, types.EntityTask, types.ActionCreate, `{"title":"Buy milk"}`)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Confirm(context.Background(), owner, a.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, types.ErrInvalidTransition) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	require.NoError(t, f.store.View(context.Background(), func(tx types.Tx) error {
		tbl, err := tx.Entities(types.EntityTask)
		require.NoError(t, err)
		all, err := tbl.Fetch(owner, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	}))
}

func TestConfirm_ConcurrentCreatesGetDistinctCodes(t *testing.T) {
	f := setup(t)
	second, err := sqlite.Open(f.dir)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	machines := []*Machine{f.machine, NewMachine(second)}

	const n = 16
	proposals := make([]*types.Action, n)
	for i := range proposals {
		proposals[i] = f.propose(t, types.EntityTask, types.ActionCreate, fmt.Sprintf(`{"title":"Task %d"}`, i))
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []int
	)
	for i, p := range proposals {
		wg.Add(1)
		go func(m *Machine, id string) {
			defer wg.Done()
			a, err := m.Confirm(context.Background(), owner, id)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes = append(codes, a.TargetCode)
			mu.Unlock()
		}(machines[i%len(machines)], p.ID)
	}
	wg.Wait()

	sort.Ints(codes)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, codes)
}

func TestShortCodes_NeverReused(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"First"}`)
	second := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"Second"}`)
	require.Equal(t, 2, second.TargetCode)

	deleted := f.confirm(t, types.EntityTask, types.ActionDelete, `{"taskCode":2}`)
	afterDelete := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"Third"}`)
	assert.Equal(t, 3, afterDelete.TargetCode, "a deleted code is not handed out again")

	_, err := f.machine.Revert(ctx, owner, deleted.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.View(ctx, func(tx types.Tx) error {
		code, err := tx.ShortCodes().CodeOf(owner, types.EntityTask, second.EntityID)
		require.NoError(t, err)
		assert.Equal(t, 2, code, "revert of delete restores the original code")
		return nil
	}))

	next := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"Fourth"}`)
	assert.Equal(t, 4, next.TargetCode)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name  string
		check func(t *testing.T, f *fixture)
	}{
		{
			name: "reject leaves the store untouched",
			check: func(t *testing.T, f *fixture) {
				a := f.propose(t, types.EntityTask, types.ActionCreate, `{"title":"Buy milk"}`)
				got, err := f.machine.Reject(context.Background(), owner, a.ID)
				require.NoError(t, err)
				assert.Equal(t, types.StatusRejected, got.Status)
				assert.Nil(t, got.ExecutedAt)

				_, err = f.machine.Confirm(context.Background(), owner, a.ID)
				assert.ErrorIs(t, err, types.ErrInvalidTransition)
				_, err = f.machine.Revert(context.Background(), owner, a.ID)
				assert.ErrorIs(t, err, types.ErrInvalidTransition)
			},
		},
		{
			name: "reject requires pending",
			check: func(t *testing.T, f *fixture) {
				a := f.confirm(t, types.EntityGoal, types.ActionCreate, `{"title":"Read"}`)
				_, err := f.machine.Reject(context.Background(), owner, a.ID)
				assert.ErrorIs(t, err, types.ErrInvalidTransition)
			},
		},
		{
			name: "pending cannot be reverted",
			check: func(t *testing.T, f *fixture) {
				a := f.propose(t, types.EntityTask, types.ActionCreate, `{"title":"Buy milk"}`)
				_, err := f.machine.Revert(context.Background(), owner, a.ID)
				assert.ErrorIs(t, err, types.ErrInvalidTransition)
			},
		},
		{
			name: "another user cannot act",
			check: func(t *testing.T, f *fixture) {
				a := f.propose(t, types.EntityTask, types.ActionCreate, `{"title":"Buy milk"}`)
				_, err := f.machine.Confirm(context.Background(), "u2", a.ID)
				assert.ErrorIs(t, err, types.ErrOwnershipViolation)
				_, err = f.machine.Get(context.Background(), "u2", a.ID)
				assert.ErrorIs(t, err, types.ErrOwnershipViolation)
				_, err = f.machine.Confirm(context.Background(), "", a.ID)
				assert.ErrorIs(t, err, types.ErrAuthRequired)
			},
		},
		{
			name: "missing action",
			check: func(t *testing.T, f *fixture) {
				_, err := f.machine.Confirm(context.Background(), owner, "nope")
				assert.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name: "failed confirm stays pending",
			check: func(t *testing.T, f *fixture) {
				a := f.propose(t, types.EntityTask, types.ActionUpdate, `{"taskCode":99,"status":"done"}`)
				_, err := f.machine.Confirm(context.Background(), owner, a.ID)
				assert.ErrorIs(t, err, types.ErrNotFound)

				pending, err := f.machine.Get(context.Background(), owner, a.ID)
				require.NoError(t, err)
				assert.Equal(t, types.StatusPending, pending.Status)
			},
		},
		{
			name: "codes are not reused after delete",
			check: func(t *testing.T, f *fixture) {
				first := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"one"}`)
				f.confirm(t, types.EntityTask, types.ActionDelete, `{"taskCode":1}`)
				second := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"two"}`)
				assert.Equal(t, 1, first.TargetCode)
				assert.Equal(t, 2, second.TargetCode)
			},
		},
		{
			name: "list pending by thread",
			check: func(t *testing.T, f *fixture) {
				a := f.propose(t, types.EntityTask, types.ActionCreate, `{"title":"one"}`)
				b := f.propose(t, types.EntityTask, types.ActionCreate, `{"title":"two"}`)
				_, err := f.machine.Reject(context.Background(), owner, a.ID)
				require.NoError(t, err)

				var threadID string
				require.NoError(t, f.store.View(context.Background(), func(tx types.Tx) error {
					m, err := tx.Messages().Get(f.msgID)
					if err != nil {
						return err
					}
					threadID = m.ThreadID
					return nil
				}))
				pending, err := f.machine.ListPending(context.Background(), owner, threadID)
				require.NoError(t, err)
				require.Len(t, pending, 1)
				assert.Equal(t, b.ID, pending[0].ID)

				_, err = f.machine.ListPending(context.Background(), "u2", threadID)
				assert.ErrorIs(t, err, types.ErrOwnershipViolation)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, setup(t))
		})
	}
}

func TestDelete_Cascades(t *testing.T) {
	t.Run("task links are restored on revert", func(t *testing.T) {
		f := setup(t)
		a := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"a"}`)
		b := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"b"}`)
		require.NoError(t, f.store.Update(context.Background(), func(tx types.Tx) error {
			return tx.Links().Insert(&types.TaskLink{UserID: owner, TaskAID: a.EntityID, TaskBID: b.EntityID, LinkType: types.LinkBlocks})
		}))

		del := f.confirm(t, types.EntityTask, types.ActionDelete, `{"taskCode":1}`)
		require.Len(t, del.SnapshotBefore.Links, 1)
		assert.Equal(t, 1, del.SnapshotBefore.ShortCode)

		countLinks := func() int {
			var n int
			require.NoError(t, f.store.View(context.Background(), func(tx types.Tx) error {
				links, err := tx.Links().ListForTask(owner, b.EntityID)
				n = len(links)
				return err
			}))
			return n
		}
		assert.Equal(t, 0, countLinks())

		_, err := f.machine.Revert(context.Background(), owner, del.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, countLinks())
	})

	t.Run("project delete unlinks tasks and revert relinks", func(t *testing.T) {
		f := setup(t)
		p := f.confirm(t, types.EntityProject, types.ActionCreate, `{"name":"Garden"}`)
		task := f.confirm(t, types.EntityTask, types.ActionCreate, `{"title":"Dig","projectCode":1}`)

		e, err := f.get(t, types.EntityTask, task.EntityID)
		require.NoError(t, err)
		require.Equal(t, p.EntityID, e.(*types.Task).ProjectID)

		del := f.confirm(t, types.EntityProject, types.ActionDelete, `{"projectCode":1}`)
		assert.Equal(t, []string{task.EntityID}, del.SnapshotBefore.Unlinked)
		e, err = f.get(t, types.EntityTask, task.EntityID)
		require.NoError(t, err)
		assert.Empty(t, e.(*types.Task).ProjectID)

		_, err = f.machine.Revert(context.Background(), owner, del.ID)
		require.NoError(t, err)
		e, err = f.get(t, types.EntityTask, task.EntityID)
		require.NoError(t, err)
		assert.Equal(t, p.EntityID, e.(*types.Task).ProjectID)
	})

	t.Run("file payload goes to trash", func(t *testing.T) {
		f := setup(t)
		created := f.confirm(t, types.EntityFile, types.ActionCreate, `{"filename":"a.txt","content":"x"}`)
		del := f.confirm(t, types.EntityFile, types.ActionDelete, `{"fileId":"`+created.EntityID+`"}`)
		assert.Equal(t, created.EntityID, del.SnapshotBefore.Object)

		_, err := f.objects.Get(context.Background(), created.EntityID)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestHandlerTable(t *testing.T) {
	table := NewHandlerTable()
	assert.Len(t, table, len(types.EntityTypes)*3)
	for _, kind := range types.EntityTypes {
		for _, act := range []types.ActionType{types.ActionCreate, types.ActionUpdate, types.ActionDelete} {
			_, err := table.Lookup(&types.Action{EntityType: kind, ActionType: act})
			assert.NoError(t, err, "%s %s", act, kind)
		}
	}
	_, err := table.Lookup(&types.Action{EntityType: "widget", ActionType: types.ActionCreate})
	assert.ErrorIs(t, err, types.ErrUnsupportedAction)
}

func TestInvert_MissingSnapshot(t *testing.T) {
	f := setup(t)
	table := NewHandlerTable()
	require.NoError(t, f.store.Update(context.Background(), func(tx types.Tx) error {
		env := &Env{Ctx: context.Background(), Tx: tx, Allocator: mention.NewAllocator(nil), UserID: owner, Now: time.Now().UTC()}
		for _, act := range []types.ActionType{types.ActionUpdate, types.ActionDelete} {
			h := table[HandlerKey{types.EntityTask, act}]
			assert.ErrorIs(t, h.Invert(env, &types.Action{EntityType: types.EntityTask, ActionType: act}), types.ErrMissingSnapshot)
		}
		return nil
	}))
}
