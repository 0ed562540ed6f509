// Package boltstore keeps collections in a single bbolt file, one bucket per
// collection. Records are JSON documents keyed by the bucket sequence, so cursor
// order is insertion order.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// Adapter stores records in a bbolt database file
type Adapter struct {
	path string

	mu     sync.RWMutex
	db     *bolt.DB
	models map[string]*schema.Model
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an adapter for the database file at path. The file is opened by Register.
func New(path string) *Adapter {
	return &Adapter{path: path, models: make(map[string]*schema.Model)}
}

type row struct {
	key    []byte
	values map[string]interface{}
}

func sequenceKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Register opens the file and creates a bucket per model
func (a *Adapter) Register(ctx context.Context, models []*schema.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		if dir := filepath.Dir(a.path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		db, err := bolt.Open(a.path, 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", a.path, err)
		}
		a.db = db
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		for _, model := range models {
			if _, err := tx.CreateBucketIfNotExists([]byte(model.Identity)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", model.Identity, err)
			}
			a.models[model.Identity] = model
		}
		return nil
	})
}

func (a *Adapter) handle(identity string) (*bolt.DB, *schema.Model, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.db == nil {
		return nil, nil, adapter.ErrClosed
	}
	model, ok := a.models[identity]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", adapter.ErrUnknownCollection, identity)
	}
	return a.db, model, nil
}

func readAll(bucket *bolt.Bucket) ([]row, error) {
	var rows []row
	err := bucket.ForEach(func(k, v []byte) error {
		var values map[string]interface{}
		if err := json.Unmarshal(v, &values); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		rows = append(rows, row{key: append([]byte(nil), k...), values: values})
		return nil
	})
	return rows, err
}

func valuesOf(rows []row) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r.values
	}
	return out
}

// Create appends a record after checking unique attributes in the same transaction
func (a *Adapter) Create(ctx context.Context, identity string, values map[string]interface{}) (map[string]interface{}, error) {
	db, model, err := a.handle(identity)
	if err != nil {
		return nil, err
	}

	record := adapter.StoredValues(model, values)
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", identity, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(identity))
		rows, err := readAll(bucket)
		if err != nil {
			return err
		}
		if err := adapter.CheckUnique(model, valuesOf(rows), record, nil); err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return nil, err
	}

	var stored map[string]interface{}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Find returns the matching records
func (a *Adapter) Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	db, _, err := a.handle(identity)
	if err != nil {
		return nil, err
	}

	var rows []row
	err = db.View(func(tx *bolt.Tx) error {
		var err error
		rows, err = readAll(tx.Bucket([]byte(identity)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return criteria.Filter(valuesOf(rows)), nil
}

// Update rewrites every matching record in one transaction
func (a *Adapter) Update(ctx context.Context, identity string, criteria *query.Criteria, changes map[string]interface{}) ([]map[string]interface{}, error) {
	db, model, err := a.handle(identity)
	if err != nil {
		return nil, err
	}
	changes = adapter.StoredValues(model, changes)
	filter := criteria.WithoutPaging()

	out := []map[string]interface{}{}
	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(identity))
		rows, err := readAll(bucket)
		if err != nil {
			return err
		}

		var untouched, updated []map[string]interface{}
		var keys [][]byte
		for _, r := range rows {
			if !filter.Match(r.values) {
				untouched = append(untouched, r.values)
				continue
			}
			next := make(map[string]interface{}, len(r.values)+len(changes))
			for k, v := range r.values {
				next[k] = v
			}
			for k, v := range changes {
				if v == nil {
					delete(next, k)
					continue
				}
				next[k] = v
			}
			updated = append(updated, next)
			keys = append(keys, r.key)
		}

		for i, next := range updated {
			if err := adapter.CheckUnique(model, append(untouched, updated[:i]...), next, nil); err != nil {
				return err
			}
		}

		for i, next := range updated {
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("failed to encode %s record: %w", identity, err)
			}
			if err := bucket.Put(keys[i], data); err != nil {
				return err
			}
			var stored map[string]interface{}
			if err := json.Unmarshal(data, &stored); err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy removes every matching record
func (a *Adapter) Destroy(ctx context.Context, identity string, criteria *query.Criteria) (int, error) {
	db, _, err := a.handle(identity)
	if err != nil {
		return 0, err
	}
	filter := criteria.WithoutPaging()

	removed := 0
	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(identity))
		rows, err := readAll(bucket)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !filter.Match(r.values) {
				continue
			}
			if err := bucket.Delete(r.key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Teardown closes the database file
func (a *Adapter) Teardown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
