package sqlite

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.ShortCodeTable = (*shortCodesTable)(nil)

type shortCodesTable struct {
	*txn
}

// NextCode increments the per-(user, type) sequence and returns its new
// value. The sequence row survives deletes, so a code is never handed out
// twice.
func (st *shortCodesTable) NextCode(userID string, kind types.EntityType) (int, error) {
	var code int
	err := st.queryRow(`INSERT INTO short_code_sequences (user_id, entity_type, last_code)
        VALUES (?, ?, 1)
        ON CONFLICT (user_id, entity_type) DO UPDATE SET last_code = last_code + 1
        RETURNING last_code`, userID, string(kind)).Scan(&code)
	if err != nil {
		return 0, fmt.Errorf("advancing short code sequence: %w", err)
	}
	return code, nil
}

// Insert stores a mapping under the unique indexes.
func (st *shortCodesTable) Insert(e types.ShortCodeEntry) error {
	if e.UserID == "" || e.EntityID == "" || e.Code <= 0 {
		return types.ErrInvalidData
	}
	_, err := st.exec(
		"INSERT INTO short_codes (user_id, entity_type, entity_id, code, created_at) VALUES (?, ?, ?, ?, ?)",
		e.UserID, string(e.EntityType), e.EntityID, e.Code, formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s#%d", types.ErrAllocationConflict, e.EntityType, e.Code)
		}
		return fmt.Errorf("inserting short code: %w", err)
	}
	return nil
}

// CodeOf returns the code of an entity, or ErrNotFound.
func (st *shortCodesTable) CodeOf(userID string, kind types.EntityType, entityID string) (int, error) {
	var code int
	err := st.queryRow(
		"SELECT code FROM short_codes WHERE user_id = ? AND entity_type = ? AND entity_id = ?",
		userID, string(kind), entityID,
	).Scan(&code)
	if err != nil {
		if notFound(err) {
			return 0, types.ErrNotFound
		}
		return 0, fmt.Errorf("reading short code: %w", err)
	}
	return code, nil
}

// Lookup maps codes to entity IDs. Unknown codes are absent from the result.
func (st *shortCodesTable) Lookup(userID string, kind types.EntityType, codes []int) (map[int]string, error) {
	out := make(map[int]string, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	args := []any{userID, string(kind)}
	for _, c := range codes {
		args = append(args, c)
	}
	rows, err := st.query(
		"SELECT code, entity_id FROM short_codes WHERE user_id = ? AND entity_type = ? AND code IN ("+
			placeholders(len(codes))+")", args...,
	)
	if err != nil {
		return nil, fmt.Errorf("looking up short codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code int
			id   string
		)
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

// CodesFor maps entity IDs to their codes.
func (st *shortCodesTable) CodesFor(userID string, kind types.EntityType, entityIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	args := []any{userID, string(kind)}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	rows, err := st.query(
		"SELECT entity_id, code FROM short_codes WHERE user_id = ? AND entity_type = ? AND entity_id IN ("+
			placeholders(len(entityIDs))+")", args...,
	)
	if err != nil {
		return nil, fmt.Errorf("reading short codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			code int
		)
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		out[id] = code
	}
	return out, rows.Err()
}

// PrefixSearch returns entries whose decimal code starts with prefix,
// lowest code first.
func (st *shortCodesTable) PrefixSearch(userID string, kind types.EntityType, prefix string, limit int) ([]types.ShortCodeEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := st.query(`SELECT entity_id, code FROM short_codes
        WHERE user_id = ? AND entity_type = ? AND CAST(code AS TEXT) LIKE ? ESCAPE '\'
        ORDER BY code LIMIT ?`,
		userID, string(kind), escapeLike(prefix)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching short codes: %w", err)
	}
	defer rows.Close()

	var out []types.ShortCodeEntry
	for rows.Next() {
		e := types.ShortCodeEntry{UserID: userID, EntityType: kind}
		if err := rows.Scan(&e.EntityID, &e.Code); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove deletes the mapping of an entity. Removing an absent mapping is not
// an error.
func (st *shortCodesTable) Remove(userID string, kind types.EntityType, entityID string) error {
	_, err := st.exec(
		"DELETE FROM short_codes WHERE user_id = ? AND entity_type = ? AND entity_id = ?",
		userID, string(kind), entityID,
	)
	if err != nil {
		return fmt.Errorf("removing short code: %w", err)
	}
	return nil
}
