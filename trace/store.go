package trace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "trace/"

// Store persists trace events in badger under a sequence key, so iteration
// returns them in recording order.
type Store struct {
	db  *badger.DB
	mu  sync.Mutex
	seq uint64
}

// Open opens (or creates) a store in dir.
func Open(dir string) (*Store, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("trace: open store: %w", err)
	}
	s := &Store{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadSeq resumes the sequence after the last key of a reopened store.
func (s *Store) loadSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte(keyPrefix + "~"))
		if !it.Valid() {
			return nil
		}
		key := string(it.Item().Key())
		seq, err := strconv.ParseUint(strings.TrimPrefix(key, keyPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("trace: bad key %q: %w", key, err)
		}
		s.seq = seq
		return nil
	})
}

// Append records ev.
func (s *Store) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("trace: marshal event: %w", err)
	}

	s.mu.Lock()
	s.seq++
	key := fmt.Sprintf("%s%020d", keyPrefix, s.seq)
	s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Events returns every recorded event in recording order.
func (s *Store) Events() ([]Event, error) {
	var out []Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				out = append(out, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trace: read events: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
