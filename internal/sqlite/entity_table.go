package sqlite

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// entityDef describes how one entity type maps onto its table.
type entityDef[T types.Entity] struct {
	table   string
	columns []string // first two are always id, user_id
	search  string   // column matched by Search
	scan    func(scanner) (T, error)
	values  func(T) []any
	setID   func(T, string)
	filters map[string]string // filter key -> SQL predicate with one placeholder
}

var _ types.EntityTable = (*entityTable[*types.Task])(nil)

// entityTable implements types.EntityTable for one entity type. Rows are
// always read with a user_id predicate, so another user's row is reported
// exactly like a missing one.
type entityTable[T types.Entity] struct {
	txn *txn
	def entityDef[T]
}

func (et *entityTable[T]) selectSQL() string {
	return "SELECT " + strings.Join(et.def.columns, ", ") + " FROM " + et.def.table
}

// Get returns the user's entity with the given ID.
func (et *entityTable[T]) Get(userID, id string) (types.Entity, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	e, err := et.def.scan(et.txn.queryRow(et.selectSQL()+" WHERE id = ? AND user_id = ?", id, userID))
	if err != nil {
		if notFound(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting %s %s: %w", et.def.table, id, err)
	}
	return e, nil
}

// Insert stores e as given, generating an ID when empty. Reinserting a
// previously deleted entity keeps its original ID.
func (et *entityTable[T]) Insert(data types.Entity) (string, error) {
	e, ok := data.(T)
	if !ok {
		return "", types.ErrInvalidData
	}
	if e.OwnerID() == "" {
		return "", types.ErrInvalidData
	}
	if e.EntityID() == "" {
		et.def.setID(e, generateUUID())
	}
	_, err := et.txn.exec(
		"INSERT INTO "+et.def.table+" ("+strings.Join(et.def.columns, ", ")+") VALUES ("+
			placeholders(len(et.def.columns))+")",
		et.def.values(e)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("inserting %s: %w", et.def.table, types.ErrInvalidID)
		}
		return "", fmt.Errorf("inserting %s: %w", et.def.table, err)
	}
	return e.EntityID(), nil
}

// Update overwrites every column of the stored row with e.
func (et *entityTable[T]) Update(data types.Entity) error {
	e, ok := data.(T)
	if !ok {
		return types.ErrInvalidData
	}
	if e.EntityID() == "" {
		return types.ErrInvalidID
	}
	cols := et.def.columns[2:]
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	vals := et.def.values(e)
	args := append(vals[2:], e.EntityID(), e.OwnerID())

	res, err := et.txn.exec(
		"UPDATE "+et.def.table+" SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...,
	)
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", et.def.table, e.EntityID(), err)
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

// Delete removes the user's entity.
func (et *entityTable[T]) Delete(userID, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := et.txn.exec("DELETE FROM "+et.def.table+" WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", et.def.table, id, err)
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

// Fetch returns the user's entities matching filter, newest first.
func (et *entityTable[T]) Fetch(userID string, filter map[string]any) ([]types.Entity, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	limit := 0

	for key, val := range filter {
		if key == "limit" {
			n, ok := val.(int)
			if !ok || n < 0 {
				return nil, types.ErrInvalidFilter
			}
			limit = n
			continue
		}
		pred, ok := et.def.filters[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown filter %q", types.ErrInvalidFilter, key)
		}
		switch v := val.(type) {
		case string, int, int64:
			where = append(where, pred)
			args = append(args, v)
		default:
			return nil, types.ErrInvalidFilter
		}
	}

	q := et.selectSQL() + " WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return et.list(q, args...)
}

// Search matches query as a case-insensitive substring of the display column.
func (et *entityTable[T]) Search(userID, query string, limit int) ([]types.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	q := et.selectSQL() + " WHERE user_id = ? AND lower(" + et.def.search + ") LIKE ? ESCAPE '\\'" +
		" ORDER BY created_at DESC, id DESC LIMIT ?"
	return et.list(q, userID, "%"+escapeLike(strings.ToLower(query))+"%", limit)
}

// Summaries returns display summaries for the user's entities among ids.
func (et *entityTable[T]) Summaries(userID string, ids []string) (map[string]types.Summary, error) {
	out := make(map[string]types.Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := []any{userID}
	for _, id := range ids {
		args = append(args, id)
	}
	entities, err := et.list(et.selectSQL()+" WHERE user_id = ? AND id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		out[e.EntityID()] = e.Summary()
	}
	return out, nil
}

func (et *entityTable[T]) list(q string, args ...any) ([]types.Entity, error) {
	rows, err := et.txn.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", et.def.table, err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		e, err := et.def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", et.def.table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
