package geocode

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerKeyPrefix = "geo:"

// BadgerStore keeps cache entries in an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a BadgerDB in dir. An empty dir opens an in-memory
// database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load(ctx context.Context) (map[string]Entry, error) {
	entries := make(map[string]Entry)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode cache entry %q: %w", key, err)
				}
				entries[key] = e
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *BadgerStore) Save(ctx context.Context, entries map[string]Entry) error {
	wb := s.db.NewWriteBatch()

	err := s.db.View(func(txn *badger.Txn) error {
		for key, e := range entries {
			k := []byte(badgerKeyPrefix + key)
			_, err := txn.Get(k)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			value, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode cache entry %q: %w", key, err)
			}
			if err := wb.Set(k, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		wb.Cancel()
		return err
	}
	return wb.Flush()
}

func (s *BadgerStore) Clear(ctx context.Context) error {
	return s.db.DropPrefix([]byte(badgerKeyPrefix))
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
