package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// Read defaults.
const (
	defaultTaskLimit    = 20
	defaultJournalLimit = 10
)

// toolResult is the JSON envelope every read returns to the model.
type toolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func okResult(data any) json.RawMessage {
	return encodeResult(toolResult{Success: true, Data: data})
}

func errResult(err error) json.RawMessage {
	return encodeResult(toolResult{Error: err.Error()})
}

func encodeResult(r toolResult) json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(toolResult{Error: "encoding result: " + err.Error()})
	}
	return b
}

// reader runs read tools. Each call opens its own read transaction so that
// calls can run concurrently.
type reader struct {
	store    types.Store
	resolver *mention.Resolver
}

type readFunc func(r *reader, ctx context.Context, userID string, args json.RawMessage) (any, error)

var readers = map[string]readFunc{
	"searchTasks":       (*reader).searchTasks,
	"getTask":           (*reader).getTask,
	"getProjects":       (*reader).getProjects,
	"getProject":        (*reader).getProject,
	"getGoals":          (*reader).getGoals,
	"searchMemories":    (*reader).searchMemories,
	"getJournalEntries": (*reader).getJournalEntries,
	"resolveMentions":   (*reader).resolveMentions,
}

// run executes one read tool. Failures are reported inside the result so
// the model can recover.
func (r *reader) run(ctx context.Context, userID, name string, args json.RawMessage) json.RawMessage {
	fn, ok := readers[name]
	if !ok {
		return errResult(fmt.Errorf("unknown tool %q", name))
	}
	data, err := fn(r, ctx, userID, args)
	if err != nil {
		return errResult(err)
	}
	return okResult(data)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrToolArgument, err)
	}
	return nil
}

// entityView is an entity as JSON with its short code and reference added.
type entityView map[string]any

func viewOf(e types.Entity, code int) (entityView, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	v := entityView{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	if code > 0 {
		v["shortCode"] = code
		v["ref"] = fmt.Sprintf("%s#%d", e.Kind(), code)
	}
	return v, nil
}

func viewsOf(tx types.Tx, userID string, kind types.EntityType, entities []types.Entity) ([]entityView, error) {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.EntityID()
	}
	codes := map[string]int{}
	if kind.AllocatesShortCode() && len(ids) > 0 {
		var err error
		codes, err = tx.ShortCodes().CodesFor(userID, kind, ids)
		if err != nil {
			return nil, err
		}
	}
	out := make([]entityView, 0, len(entities))
	for _, e := range entities {
		v, err := viewOf(e, codes[e.EntityID()])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// byCode loads the user's entity behind a short code.
func byCode(tx types.Tx, userID string, kind types.EntityType, code int) (types.Entity, error) {
	if code <= 0 {
		return nil, fmt.Errorf("%w: %s code is required", types.ErrToolArgument, kind)
	}
	ids, err := tx.ShortCodes().Lookup(userID, kind, []int{code})
	if err != nil {
		return nil, err
	}
	id, ok := ids[code]
	if !ok {
		return nil, fmt.Errorf("%s#%d: %w", kind, code, types.ErrNotFound)
	}
	tbl, err := tx.Entities(kind)
	if err != nil {
		return nil, err
	}
	return tbl.Get(userID, id)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (r *reader) searchTasks(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		Query       string `json:"query"`
		Status      string `json:"status"`
		Domain      string `json:"domain"`
		ProjectCode int    `json:"projectCode"`
		ScheduledOn string `json:"scheduledOn"`
		Limit       int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Limit <= 0 {
		args.Limit = defaultTaskLimit
	}
	filter := map[string]any{}
	if args.Status != "" {
		filter["status"] = args.Status
	}
	if args.Domain != "" {
		filter["domain"] = args.Domain
	}
	if args.ScheduledOn != "" {
		d, err := types.ParseDate(args.ScheduledOn)
		if err != nil {
			return nil, err
		}
		filter["scheduledOn"] = d.Format("2006-01-02")
	}

	var out []entityView
	err := r.store.View(ctx, func(tx types.Tx) error {
		if args.ProjectCode > 0 {
			p, err := byCode(tx, userID, types.EntityProject, args.ProjectCode)
			if err != nil {
				return err
			}
			filter["projectId"] = p.EntityID()
		}
		tbl, err := tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		all, err := tbl.Fetch(userID, filter)
		if err != nil {
			return err
		}
		var matched []types.Entity
		for _, e := range all {
			if args.Query != "" && !containsFold(e.(*types.Task).Title, args.Query) {
				continue
			}
			matched = append(matched, e)
			if len(matched) == args.Limit {
				break
			}
		}
		out, err = viewsOf(tx, userID, types.EntityTask, matched)
		return err
	})
	return out, err
}

func (r *reader) getTask(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		TaskCode int `json:"taskCode"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	var out entityView
	err := r.store.View(ctx, func(tx types.Tx) error {
		e, err := byCode(tx, userID, types.EntityTask, args.TaskCode)
		if err != nil {
			return err
		}
		if out, err = viewOf(e, args.TaskCode); err != nil {
			return err
		}
		links, err := tx.Links().ListForTask(userID, e.EntityID())
		if err != nil {
			return err
		}
		out["links"] = links
		return nil
	})
	return out, err
}

func (r *reader) getProjects(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		Status string `json:"status"`
		Type   string `json:"type"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	filter := map[string]any{}
	if args.Status != "" {
		filter["status"] = args.Status
	}
	if args.Type != "" {
		filter["type"] = args.Type
	}
	return r.fetch(ctx, userID, types.EntityProject, filter)
}

func (r *reader) getProject(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		ProjectCode int `json:"projectCode"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	var out entityView
	err := r.store.View(ctx, func(tx types.Tx) error {
		p, err := byCode(tx, userID, types.EntityProject, args.ProjectCode)
		if err != nil {
			return err
		}
		if out, err = viewOf(p, args.ProjectCode); err != nil {
			return err
		}
		tasks, err := tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		list, err := tasks.Fetch(userID, map[string]any{"projectId": p.EntityID()})
		if err != nil {
			return err
		}
		views, err := viewsOf(tx, userID, types.EntityTask, list)
		if err != nil {
			return err
		}
		out["tasks"] = views
		return nil
	})
	return out, err
}

func (r *reader) getGoals(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		Horizon string `json:"horizon"`
		Status  string `json:"status"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	filter := map[string]any{}
	if args.Horizon != "" {
		filter["horizon"] = args.Horizon
	}
	if args.Status != "" {
		filter["status"] = args.Status
	}
	return r.fetch(ctx, userID, types.EntityGoal, filter)
}

func (r *reader) searchMemories(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		Query      string `json:"query"`
		Tag        string `json:"tag"`
		AnchorPath string `json:"anchorPath"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	filter := map[string]any{}
	if args.Tag != "" {
		filter["tag"] = args.Tag
	}
	if args.AnchorPath != "" {
		filter["anchorPath"] = args.AnchorPath
	}
	views, err := r.fetch(ctx, userID, types.EntityMemory, filter)
	if err != nil || args.Query == "" {
		return views, err
	}
	out := make([]entityView, 0, len(views))
	for _, v := range views {
		if content, _ := v["content"].(string); containsFold(content, args.Query) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *reader) getJournalEntries(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		Date  string `json:"date"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Limit <= 0 {
		args.Limit = defaultJournalLimit
	}
	filter := map[string]any{"limit": args.Limit}
	if args.Date != "" {
		d, err := types.ParseDate(args.Date)
		if err != nil {
			return nil, err
		}
		filter["createdOn"] = d.Format("2006-01-02")
	}
	return r.fetch(ctx, userID, types.EntityJournal, filter)
}

func (r *reader) resolveMentions(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if r.resolver == nil {
		return nil, errors.New("mention resolution is unavailable")
	}
	return r.resolver.ResolveText(ctx, userID, args.Text)
}

func (r *reader) fetch(ctx context.Context, userID string, kind types.EntityType, filter map[string]any) ([]entityView, error) {
	var out []entityView
	err := r.store.View(ctx, func(tx types.Tx) error {
		tbl, err := tx.Entities(kind)
		if err != nil {
			return err
		}
		list, err := tbl.Fetch(userID, filter)
		if err != nil {
			return err
		}
		out, err = viewsOf(tx, userID, kind, list)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
