package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by a Store for an unknown trace id.
var ErrNotFound = errors.New("trace not found")

// Store persists ended traces.
type Store interface {
	Save(t *Trace) error
	Load(traceID string) (*Trace, error)
	List() ([]Summary, error)
}

const traceBucket = "traces"

// BoltStore keeps traces as JSON documents in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening trace store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(traceBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating trace bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save writes t, replacing any trace with the same id.
func (s *BoltStore) Save(t *Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding trace %s: %w", t.TraceID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(traceBucket)).Put([]byte(t.TraceID), data)
	})
}

// Load reads the trace with the given id.
func (s *BoltStore) Load(traceID string) (*Trace, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(traceBucket)).Get([]byte(traceID))
		if v == nil {
			return fmt.Errorf("%s: %w", traceID, ErrNotFound)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding trace %s: %w", traceID, err)
	}
	return &t, nil
}

// List returns summaries of all stored traces, oldest first.
func (s *BoltStore) List() ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(traceBucket)).ForEach(func(k, v []byte) error {
			var t Trace
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decoding trace %s: %w", k, err)
			}
			out = append(out, t.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
