package moodtrace

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var badgerStateKey = []byte("moodtrace/state")

// BadgerStateBackend keeps the snapshot in an embedded Badger key-value store.
// Suited for single-node deployments that want durability without an external
// database.
type BadgerStateBackend struct {
	db *badger.DB
}

func NewBadgerStateBackend(dir string) (StateBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStateBackend{db: db}, nil
}

func (b *BadgerStateBackend) Load() (*persistedSnapshot, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}
	var snapshot *persistedSnapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerStateKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded persistedSnapshot
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			snapshot = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (b *BadgerStateBackend) Save(state *persistedSnapshot) error {
	if b == nil || b.db == nil || state == nil {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerStateKey, payload)
	})
}

func (b *BadgerStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
