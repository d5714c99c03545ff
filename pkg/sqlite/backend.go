// Package sqlite provides the public API for the SQLite journey store.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/journey/internal/sqlite"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// Open creates the database in dataDir if needed and returns a ready store.
//
// Example:
//
//	store, err := sqlite.Open(".journey-db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(dataDir string) (types.Store, error) {
	b, err := sqlite.Open(dataDir)
	if err != nil {
		return nil, err
	}
	return b, nil
}
