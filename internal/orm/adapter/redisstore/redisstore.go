// Package redisstore stores collections in Redis. Each record is a JSON document under
// its own key, a sorted set keeps insertion order, and unique attributes are claimed
// with SETNX on index keys.
//
// Conditions are evaluated client side after the collection's documents are loaded,
// so this adapter suits small collections and caches rather than large tables.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// Config holds Redis connection settings
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix namespaces every key the adapter writes
	Prefix string
}

// DefaultConfig returns a default Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Prefix: "waterline",
	}
}

// Adapter stores records in Redis
type Adapter struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	models map[string]*schema.Model
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an adapter with a new client. The connection is checked by Register.
func New(config Config) *Adapter {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewWithClient(client, config.Prefix)
}

// NewWithClient creates an adapter with an existing client
func NewWithClient(client *redis.Client, prefix string) *Adapter {
	if prefix == "" {
		prefix = DefaultConfig().Prefix
	}
	return &Adapter{
		client: client,
		prefix: prefix,
		models: make(map[string]*schema.Model),
	}
}

func (a *Adapter) recordKey(identity string, id interface{}) string {
	return fmt.Sprintf("%s:%s:%s", a.prefix, identity, adapter.IndexKey(id))
}

func (a *Adapter) orderKey(identity string) string {
	return fmt.Sprintf("%s:%s:_order", a.prefix, identity)
}

func (a *Adapter) sequenceKey(identity string) string {
	return fmt.Sprintf("%s:%s:_seq", a.prefix, identity)
}

func (a *Adapter) uniqueKey(identity, attr string, v interface{}) string {
	return fmt.Sprintf("%s:%s:unique:%s:%s", a.prefix, identity, attr, adapter.IndexKey(v))
}

// Register checks the connection and remembers the models
func (a *Adapter) Register(ctx context.Context, models []*schema.Model) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, model := range models {
		a.models[model.Identity] = model
	}
	return nil
}

func (a *Adapter) model(identity string) (*schema.Model, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	model, ok := a.models[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownCollection, identity)
	}
	return model, nil
}

// claim takes the unique index keys of row for id. When updating, keys already owned
// by id are kept. On conflict every key claimed by this call is released.
func (a *Adapter) claim(ctx context.Context, model *schema.Model, id interface{}, row map[string]interface{}, updating bool) error {
	owner := adapter.IndexKey(id)
	var claimed []string

	release := func() {
		if len(claimed) > 0 {
			a.client.Del(ctx, claimed...)
		}
	}

	for _, name := range model.UniqueAttributes() {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		key := a.uniqueKey(model.Identity, name, v)
		ok, err := a.client.SetNX(ctx, key, owner, 0).Result()
		if err != nil {
			release()
			return err
		}
		if ok {
			claimed = append(claimed, key)
			continue
		}
		if !updating {
			release()
			return &adapter.UniqueViolationError{Identity: model.Identity, Attribute: name, Value: v}
		}
		current, err := a.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			release()
			return err
		}
		if current != owner {
			release()
			return &adapter.UniqueViolationError{Identity: model.Identity, Attribute: name, Value: v}
		}
	}
	return nil
}

func (a *Adapter) uniqueKeys(model *schema.Model, row map[string]interface{}) []string {
	var keys []string
	for _, name := range model.UniqueAttributes() {
		if v, ok := row[name]; ok && v != nil {
			keys = append(keys, a.uniqueKey(model.Identity, name, v))
		}
	}
	return keys
}

// Create stores a record document
func (a *Adapter) Create(ctx context.Context, identity string, values map[string]interface{}) (map[string]interface{}, error) {
	model, err := a.model(identity)
	if err != nil {
		return nil, err
	}

	row := adapter.StoredValues(model, values)
	id, ok := row[model.PrimaryKey]
	if !ok || id == nil {
		return nil, fmt.Errorf("%s: primary key %s is required", identity, model.PrimaryKey)
	}

	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", identity, err)
	}

	if err := a.claim(ctx, model, id, row, false); err != nil {
		return nil, err
	}

	seq, err := a.client.Incr(ctx, a.sequenceKey(identity)).Result()
	if err != nil {
		return nil, err
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, a.recordKey(identity, id), data, 0)
		pipe.ZAdd(ctx, a.orderKey(identity), redis.Z{Score: float64(seq), Member: adapter.IndexKey(id)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return decode(data)
}

func decode(data []byte) (map[string]interface{}, error) {
	var row map[string]interface{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// load returns every document of a collection in insertion order
func (a *Adapter) load(ctx context.Context, identity string) ([]map[string]interface{}, error) {
	ids, err := a.client.ZRange(ctx, a.orderKey(identity), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []map[string]interface{}{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = a.recordKey(identity, id)
	}
	docs, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		s, ok := doc.(string)
		if !ok {
			continue // removed between ZRANGE and MGET
		}
		row, err := decode([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", identity, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Find loads the collection and filters it
func (a *Adapter) Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	if _, err := a.model(identity); err != nil {
		return nil, err
	}
	rows, err := a.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	return criteria.Filter(rows), nil
}

// Update rewrites every matching document. Unique keys are claimed per record, so a
// conflict part way through leaves earlier records updated.
func (a *Adapter) Update(ctx context.Context, identity string, criteria *query.Criteria, changes map[string]interface{}) ([]map[string]interface{}, error) {
	model, err := a.model(identity)
	if err != nil {
		return nil, err
	}
	matched, err := a.Find(ctx, identity, criteria.WithoutPaging())
	if err != nil {
		return nil, err
	}
	changes = adapter.StoredValues(model, changes)

	out := make([]map[string]interface{}, 0, len(matched))
	for _, old := range matched {
		id := old[model.PrimaryKey]
		row := make(map[string]interface{}, len(old)+len(changes))
		for k, v := range old {
			row[k] = v
		}
		for k, v := range changes {
			if v == nil {
				delete(row, k)
				continue
			}
			row[k] = v
		}

		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s record: %w", identity, err)
		}
		if err := a.claim(ctx, model, id, row, true); err != nil {
			return nil, err
		}

		stale := difference(a.uniqueKeys(model, old), a.uniqueKeys(model, row))
		_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, a.recordKey(identity, id), data, 0)
			if len(stale) > 0 {
				pipe.Del(ctx, stale...)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		updated, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// Destroy removes every matching document and its index keys
func (a *Adapter) Destroy(ctx context.Context, identity string, criteria *query.Criteria) (int, error) {
	model, err := a.model(identity)
	if err != nil {
		return 0, err
	}
	matched, err := a.Find(ctx, identity, criteria.WithoutPaging())
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, row := range matched {
			id := row[model.PrimaryKey]
			keys := append(a.uniqueKeys(model, row), a.recordKey(identity, id))
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, a.orderKey(identity), adapter.IndexKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Teardown closes the client
func (a *Adapter) Teardown(ctx context.Context) error {
	return a.client.Close()
}

func difference(a, b []string) []string {
	keep := make(map[string]bool, len(b))
	for _, k := range b {
		keep[k] = true
	}
	var out []string
	for _, k := range a {
		if !keep[k] {
			out = append(out, k)
		}
	}
	return out
}
