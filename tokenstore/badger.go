package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var _ Storage = (*Badger)(nil)

// Badger stores the token in an embedded BadgerDB. The caller owns db.
type Badger struct {
	db  *badger.DB
	key []byte
}

func NewBadger(db *badger.DB, key string) *Badger {
	if key == "" {
		key = DefaultKey
	}
	return &Badger{db: db, key: []byte(key)}
}

// OpenBadger opens a BadgerDB at path. An empty path opens an in-memory
// database.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger token store: %w", err)
	}
	return db, nil
}

func (s *Badger) Load(context.Context) (string, error) {
	var token string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		return item.Value(func(val []byte) error {
			token = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

func (s *Badger) Save(_ context.Context, token string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(s.key, []byte(token)); err != nil {
			return fmt.Errorf("set token: %w", err)
		}
		return nil
	})
}

func (s *Badger) Clear(context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(s.key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	})
}
