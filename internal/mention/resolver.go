package mention

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Result limits.
const (
	SearchLimit       = 10
	SearchAllPerType  = 5
	ShortcutMinLength = 3
)

// ResolvedMention is a mention after lookup. Found is false when the code
// does not exist for the caller; nothing else is filled in then.
type ResolvedMention struct {
	EntityType types.EntityType `json:"entityType"`
	ShortCode  int              `json:"shortCode"`
	Found      bool             `json:"found"`
	EntityID   string           `json:"entityId,omitempty"`
	Title      string           `json:"title,omitempty"`
	Status     string           `json:"status,omitempty"`
	URL        string           `json:"url,omitempty"`
}

// SearchResult is one autocomplete candidate.
type SearchResult struct {
	EntityType types.EntityType `json:"entityType"`
	ShortCode  int              `json:"shortCode"`
	EntityID   string           `json:"entityId"`
	Title      string           `json:"title"`
	Status     string           `json:"status,omitempty"`
	URL        string           `json:"url"`
}

// Grouped holds universal search results per entity type.
type Grouped struct {
	Tasks    []SearchResult `json:"tasks"`
	Projects []SearchResult `json:"projects"`
	Goals    []SearchResult `json:"goals"`
	Memories []SearchResult `json:"memories"`
}

// searchAllTypes are the types covered by universal search.
var searchAllTypes = []types.EntityType{types.EntityTask, types.EntityProject, types.EntityGoal, types.EntityMemory}

// URL returns the application path of a coded entity.
func URL(kind types.EntityType, code int) string {
	return "/" + kind.Plural() + "/" + strconv.Itoa(code)
}

// Resolver looks mentions up in the store. Every lookup is scoped to one
// user; codes of other users resolve as not found.
type Resolver struct {
	store     types.Store
	allocator *Allocator
	logger    *zap.Logger
}

// NewResolver returns a Resolver over store.
func NewResolver(store types.Store, allocator *Allocator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allocator == nil {
		allocator = NewAllocator(logger)
	}
	return &Resolver{store: store, allocator: allocator, logger: logger}
}

// Allocate assigns a short code to an existing entity in its own
// transaction. It backfills entities created outside the action path.
func (r *Resolver) Allocate(ctx context.Context, userID string, kind types.EntityType, entityID string) (int, error) {
	var code int
	err := r.store.Update(ctx, func(tx types.Tx) error {
		tbl, err := tx.Entities(kind)
		if err != nil {
			return err
		}
		if _, err := tbl.Get(userID, entityID); err != nil {
			return err
		}
		code, err = r.allocator.Allocate(tx, userID, kind, entityID)
		return err
	})
	return code, err
}

// ResolveText parses text and resolves its distinct mentions.
func (r *Resolver) ResolveText(ctx context.Context, userID, text string) ([]ResolvedMention, error) {
	return r.Resolve(ctx, userID, Unique(Parse(text)))
}

// Resolve looks up mentions in input order. Lookups are batched per type.
func (r *Resolver) Resolve(ctx context.Context, userID string, mentions []Mention) ([]ResolvedMention, error) {
	out := make([]ResolvedMention, len(mentions))
	for i, m := range mentions {
		out[i] = ResolvedMention{EntityType: m.EntityType, ShortCode: m.Code}
	}
	if len(mentions) == 0 {
		return out, nil
	}

	byType := make(map[types.EntityType][]int)
	for _, m := range mentions {
		byType[m.EntityType] = append(byType[m.EntityType], m.Code)
	}

	err := r.store.View(ctx, func(tx types.Tx) error {
		for kind, codes := range byType {
			tbl, err := tx.Entities(kind)
			if err != nil {
				continue
			}
			ids, err := tx.ShortCodes().Lookup(userID, kind, codes)
			if err != nil {
				return err
			}
			idList := make([]string, 0, len(ids))
			for _, id := range ids {
				idList = append(idList, id)
			}
			sums, err := tbl.Summaries(userID, idList)
			if err != nil {
				return err
			}
			for i := range out {
				if out[i].EntityType != kind {
					continue
				}
				id, ok := ids[out[i].ShortCode]
				if !ok {
					continue
				}
				sum, ok := sums[id]
				if !ok {
					continue
				}
				out[i].Found = true
				out[i].EntityID = id
				out[i].Title = sum.Title
				out[i].Status = sum.Status
				out[i].URL = URL(kind, out[i].ShortCode)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving mentions: %w", err)
	}
	return out, nil
}

// Search returns candidates of one type. A numeric query matches short code
// prefixes; other queries match the display text. Entities without a code
// are left out.
func (r *Resolver) Search(ctx context.Context, userID string, kind types.EntityType, query string) ([]SearchResult, error) {
	if !kind.AllocatesShortCode() {
		return nil, types.ErrInvalidEntityType
	}
	var out []SearchResult
	err := r.store.View(ctx, func(tx types.Tx) error {
		var err error
		out, err = search(tx, userID, kind, strings.TrimSpace(query), SearchLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", kind, err)
	}
	return out, nil
}

// SearchAll is the universal "@" search. A query of at least three letters
// that prefixes a type name lists that type's recent items; anything else
// is searched across tasks, projects, goals and memories concurrently.
func (r *Resolver) SearchAll(ctx context.Context, userID, query string) (*Grouped, error) {
	query = strings.TrimSpace(query)
	res := &Grouped{Tasks: []SearchResult{}, Projects: []SearchResult{}, Goals: []SearchResult{}, Memories: []SearchResult{}}

	if kind, ok := typeShortcut(query); ok {
		var items []SearchResult
		err := r.store.View(ctx, func(tx types.Tx) error {
			var err error
			items, err = recent(tx, userID, kind, SearchLimit)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing recent %s: %w", kind, err)
		}
		*res.slot(kind) = items
		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range searchAllTypes {
		g.Go(func() error {
			return r.store.View(gctx, func(tx types.Tx) error {
				items, err := search(tx, userID, kind, query, SearchAllPerType)
				if err != nil {
					return err
				}
				*res.slot(kind) = items
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("searching all: %w", err)
	}
	return res, nil
}

func (g *Grouped) slot(kind types.EntityType) *[]SearchResult {
	switch kind {
	case types.EntityProject:
		return &g.Projects
	case types.EntityGoal:
		return &g.Goals
	case types.EntityMemory:
		return &g.Memories
	default:
		return &g.Tasks
	}
}

func typeShortcut(query string) (types.EntityType, bool) {
	if len(query) < ShortcutMinLength {
		return "", false
	}
	q := strings.ToLower(query)
	for _, kind := range searchAllTypes {
		if strings.HasPrefix(string(kind), q) {
			return kind, true
		}
	}
	return "", false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func search(tx types.Tx, userID string, kind types.EntityType, query string, limit int) ([]SearchResult, error) {
	tbl, err := tx.Entities(kind)
	if err != nil {
		return nil, err
	}

	if isNumeric(query) {
		entries, err := tx.ShortCodes().PrefixSearch(userID, kind, query, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.EntityID
		}
		sums, err := tbl.Summaries(userID, ids)
		if err != nil {
			return nil, err
		}
		out := make([]SearchResult, 0, len(entries))
		for _, e := range entries {
			sum, ok := sums[e.EntityID]
			if !ok {
				continue
			}
			out = append(out, SearchResult{
				EntityType: kind, ShortCode: e.Code, EntityID: e.EntityID,
				Title: sum.Title, Status: sum.Status, URL: URL(kind, e.Code),
			})
		}
		return out, nil
	}

	var entities []types.Entity
	if query == "" {
		entities, err = tbl.Fetch(userID, map[string]any{"limit": limit})
	} else {
		entities, err = tbl.Search(userID, query, limit)
	}
	if err != nil {
		return nil, err
	}
	return withCodes(tx, userID, kind, entities)
}

func recent(tx types.Tx, userID string, kind types.EntityType, limit int) ([]SearchResult, error) {
	tbl, err := tx.Entities(kind)
	if err != nil {
		return nil, err
	}
	entities, err := tbl.Fetch(userID, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return withCodes(tx, userID, kind, entities)
}

func withCodes(tx types.Tx, userID string, kind types.EntityType, entities []types.Entity) ([]SearchResult, error) {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.EntityID()
	}
	codes, err := tx.ShortCodes().CodesFor(userID, kind, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(entities))
	for _, e := range entities {
		code, ok := codes[e.EntityID()]
		if !ok {
			continue
		}
		sum := e.Summary()
		out = append(out, SearchResult{
			EntityType: kind, ShortCode: code, EntityID: e.EntityID(),
			Title: sum.Title, Status: sum.Status, URL: URL(kind, code),
		})
	}
	return out, nil
}
