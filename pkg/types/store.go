package types

import (
	"context"
	"time"
)

// Store is the transactional persistence boundary. Update runs fn inside a
// write transaction that commits when fn returns nil and rolls back
// otherwise; View runs fn inside a read transaction.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx exposes the table accessors bound to one transaction.
type Tx interface {
	Threads() ThreadTable
	Messages() MessageTable
	Actions() ActionTable
	ShortCodes() ShortCodeTable
	Links() LinkTable
	BotLinks() BotLinkTable

	// Entities returns the accessor for one entity type.
	// Returns ErrInvalidEntityType for unknown types.
	Entities(t EntityType) (EntityTable, error)
}

// EntityTable provides uniform CRUD for one entity type. Every read is
// scoped to a user: a row owned by someone else is reported as ErrNotFound.
// Get and Fetch return Entity values; callers type-assert to the concrete
// struct.
type EntityTable interface {
	// Get returns the entity with the given ID owned by userID.
	Get(userID, id string) (Entity, error)

	// Insert stores a new entity. When the entity ID is empty a UUID v7 is
	// generated. Returns the ID used.
	Insert(e Entity) (string, error)

	// Update overwrites an existing entity. Returns ErrNotFound if the row
	// does not exist for the entity's owner.
	Update(e Entity) error

	// Delete removes the entity. Returns ErrNotFound if absent.
	Delete(userID, id string) error

	// Fetch returns the user's entities matching filter, newest first. An
	// empty filter returns all of them. A "limit" key caps the result.
	Fetch(userID string, filter map[string]any) ([]Entity, error)

	// Search returns entities whose display text contains query,
	// case-insensitively, newest first.
	Search(userID, query string, limit int) ([]Entity, error)

	// Summaries returns display summaries for the given IDs keyed by ID.
	// Missing or foreign IDs are absent from the map.
	Summaries(userID string, ids []string) (map[string]Summary, error)
}

// ThreadTable stores threads.
type ThreadTable interface {
	Get(id string) (*Thread, error)
	Insert(t *Thread) error
	FindByAnchor(userID, anchorPath string) (*Thread, error)
	List(userID string, includeArchived bool) ([]*Thread, error)
	SetTitle(id, title string, at time.Time) error
	Archive(id string, at time.Time) error
	Touch(id string, at time.Time) error
}

// MessageTable stores messages.
type MessageTable interface {
	Get(id string) (*Message, error)

	// Append stores m, assigning an ID if empty and a CreatedAt strictly
	// greater than every other message in the thread.
	Append(m *Message) error

	// ListActive returns the thread's non-deleted messages in order. When
	// limit is positive only the last limit messages are returned.
	ListActive(threadID string, limit int) ([]*Message, error)

	// SoftDeleteFrom marks every active message of the thread created at or
	// after from as deleted and returns their IDs.
	SoftDeleteFrom(threadID string, from, at time.Time) ([]string, error)
}

// ActionTable stores actions.
type ActionTable interface {
	Get(id string) (*Action, error)
	Insert(a *Action) error

	// Owner returns the user that owns the action through its message and
	// thread.
	Owner(id string) (string, error)

	// Transition moves the action from one status to another with a
	// compare-and-swap on the status column. Returns ErrInvalidTransition
	// when the stored status is not from, ErrNotFound when absent.
	Transition(id string, from, to ActionStatus, at time.Time) error

	// SaveResult persists the outcome of executing or inverting an action.
	SaveResult(a *Action) error

	ListByMessages(messageIDs []string, status ActionStatus) ([]*Action, error)
	ListByThread(threadID string, status ActionStatus) ([]*Action, error)
}

// ShortCodeTable stores short-code mappings.
type ShortCodeTable interface {
	// NextCode advances and returns the per-(user, type) sequence. The
	// sequence never decreases, so codes are never reissued.
	NextCode(userID string, t EntityType) (int, error)

	// Insert stores a mapping. Returns ErrAllocationConflict if the code or
	// the entity is already mapped.
	Insert(e ShortCodeEntry) error

	CodeOf(userID string, t EntityType, entityID string) (int, error)
	Lookup(userID string, t EntityType, codes []int) (map[int]string, error)
	CodesFor(userID string, t EntityType, entityIDs []string) (map[string]int, error)
	PrefixSearch(userID string, t EntityType, prefix string, limit int) ([]ShortCodeEntry, error)
	Remove(userID string, t EntityType, entityID string) error
}

// LinkTable stores task links.
type LinkTable interface {
	Insert(l *TaskLink) error
	ListForTask(userID, taskID string) ([]TaskLink, error)
	DeleteForTask(userID, taskID string) error
}

// BotLinkTable maps external chats to users.
type BotLinkTable interface {
	Get(chatID int64) (*BotLink, error)
	Set(l *BotLink) error
	Delete(chatID int64) error
}

// ObjectStore holds file payload bytes. Trash and Restore let a delete be
// reverted without losing content.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Trash(ctx context.Context, key string) error
	Restore(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
}
