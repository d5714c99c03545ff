package types

import (
	"errors"
	"fmt"
)

// Lifecycle errors. Callers match them with errors.Is; stores and services
// wrap them with context.
var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrNotFound           = errors.New("entity not found")
	ErrOwnershipViolation = errors.New("entity belongs to another user")
	ErrInvalidTransition  = errors.New("invalid action status transition")
	ErrMissingSnapshot    = errors.New("action has no snapshot to revert to")
	ErrToolArgument       = errors.New("invalid tool arguments")
	ErrProvider           = errors.New("language model provider failed")
	ErrAllocationConflict = errors.New("short code allocation conflict")

	// ErrActionNotFound is the ErrNotFound returned when the action itself
	// is missing, as opposed to the entity it targets.
	ErrActionNotFound = fmt.Errorf("action: %w", ErrNotFound)
)

// Store and data errors.
var (
	ErrInvalidID          = errors.New("invalid entity ID")
	ErrInvalidData        = errors.New("invalid entity data")
	ErrInvalidFilter      = errors.New("invalid filter value type")
	ErrInvalidEntityType  = errors.New("unknown entity type")
	ErrUnsupportedAction  = errors.New("unsupported action for entity type")
	ErrStoreClosed        = errors.New("store is closed")
	ErrAlreadyAttached    = errors.New("store is already attached")
	ErrThreadArchived     = errors.New("thread is archived")
	ErrInvalidMessageRole = errors.New("only user messages can be edited")
	ErrChatLinked         = errors.New("chat is linked to another account")
)
