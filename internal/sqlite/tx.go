package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mesh-intelligence/journey/pkg/types"
)

var _ types.Tx = (*txn)(nil)

// txn binds table accessors to one SQL transaction. Accessors must not be
// used after the enclosing Update or View returns.
type txn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *txn) Threads() types.ThreadTable       { return &threadsTable{t} }
func (t *txn) Messages() types.MessageTable     { return &messagesTable{t} }
func (t *txn) Actions() types.ActionTable       { return &actionsTable{t} }
func (t *txn) ShortCodes() types.ShortCodeTable { return &shortCodesTable{t} }
func (t *txn) Links() types.LinkTable           { return &linksTable{t} }
func (t *txn) BotLinks() types.BotLinkTable     { return &botLinksTable{t} }

// Entities returns the table accessor for an entity type.
func (t *txn) Entities(kind types.EntityType) (types.EntityTable, error) {
	switch kind {
	case types.EntityTask:
		return &entityTable[*types.Task]{txn: t, def: taskDef}, nil
	case types.EntityProject:
		return &entityTable[*types.Project]{txn: t, def: projectDef}, nil
	case types.EntityGoal:
		return &entityTable[*types.Goal]{txn: t, def: goalDef}, nil
	case types.EntityJournal:
		return &entityTable[*types.JournalEntry]{txn: t, def: journalDef}, nil
	case types.EntityMemory:
		return &entityTable[*types.Memory]{txn: t, def: memoryDef}, nil
	case types.EntityFile:
		return &entityTable[*types.File]{txn: t, def: fileDef}, nil
	}
	return nil, types.ErrInvalidEntityType
}

func (t *txn) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *txn) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *txn) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from the driver.
func isUniqueViolation(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		c := coded.Code()
		return c == sqliteConstraintUnique || c == sqliteConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// escapeLike escapes LIKE wildcards so query text matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// prefixed qualifies every column of a comma-separated list with prefix.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
