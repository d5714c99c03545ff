// Package mention allocates per-user short codes for entities and resolves
// type#code references in free text back to the entities they name.
package mention

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// MaxAllocationAttempts bounds retries after a unique-index conflict.
const MaxAllocationAttempts = 5

// Allocator hands out short codes. It works inside the caller's transaction
// so a code is assigned atomically with the entity it names.
type Allocator struct {
	maxAttempts int
	logger      *zap.Logger
}

// NewAllocator returns an Allocator. A nil logger disables logging.
func NewAllocator(logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{maxAttempts: MaxAllocationAttempts, logger: logger}
}

// Allocate returns the entity's short code, assigning the next code of the
// (user, type) sequence when it has none. Codes are strictly increasing per
// (user, type) and never reissued.
func (a *Allocator) Allocate(tx types.Tx, userID string, kind types.EntityType, entityID string) (int, error) {
	if !kind.AllocatesShortCode() {
		return 0, fmt.Errorf("%w: %s has no short codes", types.ErrInvalidEntityType, kind)
	}
	if userID == "" || entityID == "" {
		return 0, types.ErrInvalidData
	}

	codes := tx.ShortCodes()
	if code, err := codes.CodeOf(userID, kind, entityID); err == nil {
		return code, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return 0, err
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		code, err := codes.NextCode(userID, kind)
		if err != nil {
			return 0, err
		}
		err = codes.Insert(types.ShortCodeEntry{UserID: userID, EntityType: kind, EntityID: entityID, Code: code})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, types.ErrAllocationConflict) {
			return 0, err
		}

		// The entity may have been coded by a concurrent writer.
		if existing, lookupErr := codes.CodeOf(userID, kind, entityID); lookupErr == nil {
			return existing, nil
		}
		a.logger.Warn("short code conflict, retrying",
			zap.String("user_id", userID),
			zap.String("entity_type", string(kind)),
			zap.Int("code", code),
			zap.Int("attempt", attempt))
	}
	return 0, fmt.Errorf("allocating %s code after %d attempts: %w", kind, a.maxAttempts, types.ErrAllocationConflict)
}

// Restore reinstates a mapping recorded in a snapshot, used when a delete
// is reverted. The code was never reissued, so the original code is free.
func (a *Allocator) Restore(tx types.Tx, userID string, kind types.EntityType, entityID string, code int) error {
	if code <= 0 {
		return nil
	}
	return tx.ShortCodes().Insert(types.ShortCodeEntry{UserID: userID, EntityType: kind, EntityID: entityID, Code: code})
}

// Release removes the entity's mapping. The code stays retired.
func (a *Allocator) Release(tx types.Tx, userID string, kind types.EntityType, entityID string) error {
	if !kind.AllocatesShortCode() {
		return nil
	}
	return tx.ShortCodes().Remove(userID, kind, entityID)
}
