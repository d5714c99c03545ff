// Package objects stores file payload bytes in an embedded Pebble database.
// A deleted payload moves to a trash keyspace so that reverting the delete
// can bring it back.
package objects

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pebble "github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Directory is the Pebble directory under the data dir.
const Directory = "objects"

const (
	livePrefix  = "obj:"
	trashPrefix = "trash:"
)

// Store implements types.ObjectStore.
type Store struct {
	db     *pebble.DB
	logger *zap.Logger
}

// Open opens (or creates) the object store under dataDir.
func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(dataDir, Directory)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating object dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening object store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put writes data under key, replacing any live value.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	if key == "" {
		return types.ErrInvalidID
	}
	return s.db.Set([]byte(livePrefix+key), data, pebble.Sync)
}

// Get returns a copy of the live value of key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	return s.read(livePrefix + key)
}

// Trash moves a live value to the trash. A missing key is not an error so a
// file row without a payload can still be deleted.
func (s *Store) Trash(_ context.Context, key string) error {
	return s.move(livePrefix+key, trashPrefix+key)
}

// Restore moves a trashed value back to the live keyspace.
func (s *Store) Restore(_ context.Context, key string) error {
	return s.move(trashPrefix+key, livePrefix+key)
}

// Remove deletes key from both keyspaces.
func (s *Store) Remove(_ context.Context, key string) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(livePrefix+key), nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(trashPrefix+key), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) read(k string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(k))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) move(from, to string) error {
	data, err := s.read(from)
	if errors.Is(err, types.ErrNotFound) {
		s.logger.Debug("object not present", zap.String("key", from))
		return nil
	}
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(to), data, nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(from), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

var _ types.ObjectStore = (*Store)(nil)
