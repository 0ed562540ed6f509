package ontology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/adapter/boltstore"
	"github.com/conduit-lang/waterline/internal/orm/adapter/memory"
	"github.com/conduit-lang/waterline/internal/orm/collection"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// countingAdapter counts Find calls
type countingAdapter struct {
	*memory.Adapter
	finds atomic.Int32
}

func (c *countingAdapter) Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	c.finds.Add(1)
	return c.Adapter.Find(ctx, identity, criteria)
}

type brokenAdapter struct {
	*memory.Adapter
}

func (b *brokenAdapter) Register(ctx context.Context, models []*schema.Model) error {
	return errors.New("connection refused")
}

func definitions() []*schema.Definition {
	return []*schema.Definition{
		{
			Identity: "user",
			Attributes: map[string]interface{}{
				"username": map[string]interface{}{"type": "string", "unique": true, "required": true},
				"password": "string",
				"age":      "integer",
				"pets":     map[string]interface{}{"collection": "pet", "via": "owner"},
			},
			ToJSON: schema.Omit("password"),
		},
		{
			Identity: "pet",
			Attributes: map[string]interface{}{
				"name":  "string",
				"owner": map[string]interface{}{"model": "user"},
			},
		},
	}
}

func memoryConfig(a adapter.Adapter) Config {
	return Config{
		Adapters:    map[string]adapter.Adapter{"memory": a},
		Connections: map[string]adapter.Connection{adapter.DefaultConnection: {Adapter: "memory"}},
	}
}

func initialize(t *testing.T) (*Ontology, *countingAdapter) {
	t.Helper()
	store := &countingAdapter{Adapter: memory.New()}
	o, err := Initialize(context.Background(), memoryConfig(store), definitions()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Teardown(context.Background()) })
	return o, store
}

func TestGettingStarted(t *testing.T) {
	ctx := context.Background()
	o, _ := initialize(t)
	users := o.MustCollection("user")
	pets := o.MustCollection("pet")

	neil, err := users.Create(ctx, map[string]interface{}{"username": "Neil"})
	require.NoError(t, err)
	_, err = pets.Create(ctx, map[string]interface{}{"name": "Astro", "owner": neil.ID()})
	require.NoError(t, err)

	found, err := users.Find().Populate("pets").All(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Neil", found[0].Get("username"))

	related := found[0].Related("pets")
	require.Len(t, related, 1)
	assert.Equal(t, "Astro", related[0].Get("name"))
}

func TestMembershipSave(t *testing.T) {
	ctx := context.Background()
	o, _ := initialize(t)
	users := o.MustCollection("user")
	pets := o.MustCollection("pet")

	neil, err := users.Create(ctx, map[string]interface{}{"username": "Neil"})
	require.NoError(t, err)
	astro, err := pets.Create(ctx, map[string]interface{}{"name": "Astro"})
	require.NoError(t, err)

	require.NoError(t, neil.SetCollection("pets", astro))
	require.NoError(t, users.Save(ctx, neil))

	found, err := users.FindOne(ctx, map[string]interface{}{"username": "Neil"}, "pets")
	require.NoError(t, err)
	require.Len(t, found.Related("pets"), 1)
	assert.Equal(t, astro.ID(), found.Related("pets")[0].ID())

	pet, err := pets.FindOne(ctx, map[string]interface{}{"id": astro.ID()}, "owner")
	require.NoError(t, err)
	require.NotNil(t, pet.RelatedOne("owner"))
	assert.Equal(t, "Neil", pet.RelatedOne("owner").Get("username"))
}

func TestMembershipSaveRequiredOwner(t *testing.T) {
	ctx := context.Background()

	defs := definitions()
	defs[1].Attributes["owner"] = map[string]interface{}{"model": "user", "required": true}
	var updates []map[string]interface{}
	defs[1].On(schema.BeforeUpdate, func(_ context.Context, values map[string]interface{}) error {
		updates = append(updates, values)
		return nil
	})

	o, err := Initialize(ctx, memoryConfig(memory.New()), defs...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Teardown(ctx) })
	users := o.MustCollection("user")
	pets := o.MustCollection("pet")

	neil, err := users.Create(ctx, map[string]interface{}{"username": "neil", "age": 38})
	require.NoError(t, err)
	buzz, err := users.Create(ctx, map[string]interface{}{"username": "buzz"})
	require.NoError(t, err)
	astro, err := pets.Create(ctx, map[string]interface{}{"name": "Astro", "owner": neil.ID()})
	require.NoError(t, err)

	t.Run("detaching a required back-reference fails before any write", func(t *testing.T) {
		require.NoError(t, neil.Set("age", 39))
		require.NoError(t, neil.SetCollection("pets"))

		err := users.Save(ctx, neil)
		var ve *collection.ValidationError
		require.True(t, errors.As(err, &ve), "got %v", err)
		assert.Equal(t, "pet", ve.Identity)
		assert.Equal(t, "owner", ve.Errors[0].Field)

		stored, err := pets.FindOne(ctx, map[string]interface{}{"id": astro.ID()})
		require.NoError(t, err)
		assert.Equal(t, neil.ID(), stored.Get("owner"))

		storedNeil, err := users.FindOne(ctx, map[string]interface{}{"id": neil.ID()})
		require.NoError(t, err)
		assert.Equal(t, 38, storedNeil.Get("age"))
		assert.Empty(t, updates)
	})

	t.Run("attaching runs the target's update callbacks", func(t *testing.T) {
		require.NoError(t, buzz.SetCollection("pets", astro))
		require.NoError(t, users.Save(ctx, buzz))

		require.Len(t, updates, 1)
		assert.Equal(t, map[string]interface{}{"owner": buzz.ID()}, updates[0])

		stored, err := pets.FindOne(ctx, map[string]interface{}{"id": astro.ID()})
		require.NoError(t, err)
		assert.Equal(t, buzz.ID(), stored.Get("owner"))
	})
}

func TestDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	o, _ := initialize(t)
	users := o.MustCollection("user")

	first, err := users.Create(ctx, map[string]interface{}{"username": "neil", "age": 38})
	require.NoError(t, err)

	_, err = users.Create(ctx, map[string]interface{}{"username": "neil", "age": 12})
	var unique *adapter.UniqueViolationError
	require.True(t, errors.As(err, &unique))
	assert.Equal(t, "username", unique.Attribute)

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	still, err := users.FindOne(ctx, map[string]interface{}{"id": first.ID()})
	require.NoError(t, err)
	assert.Equal(t, first.Values(), still.Values())
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	o, _ := initialize(t)
	users := o.MustCollection("user")

	input := map[string]interface{}{"username": "sally", "password": "secret", "age": 32}
	created, err := users.Create(ctx, input)
	require.NoError(t, err)

	found, err := users.FindOne(ctx, map[string]interface{}{"id": created.ID()})
	require.NoError(t, err)

	want := map[string]interface{}{"id": created.ID()}
	for k, v := range input {
		want[k] = v
	}
	assert.Equal(t, want, found.Values())
}

func TestPopulateBatches(t *testing.T) {
	ctx := context.Background()

	for _, n := range []int{1, 10, 100} {
		t.Run(fmt.Sprintf("%d users", n), func(t *testing.T) {
			o, store := initialize(t)
			users := o.MustCollection("user")
			pets := o.MustCollection("pet")

			for i := 0; i < n; i++ {
				u, err := users.Create(ctx, map[string]interface{}{"username": fmt.Sprintf("user%d", i)})
				require.NoError(t, err)
				for j := 0; j < 2; j++ {
					_, err := pets.Create(ctx, map[string]interface{}{"name": fmt.Sprintf("pet%d-%d", i, j), "owner": u.ID()})
					require.NoError(t, err)
				}
			}

			store.finds.Store(0)
			found, err := users.Find().Populate("pets").All(ctx)
			require.NoError(t, err)
			require.Len(t, found, n)
			assert.Equal(t, int32(2), store.finds.Load())

			for _, u := range found {
				assert.Len(t, u.Related("pets"), 2)
			}

			store.finds.Store(0)
			_, err = users.Find().Populate("pets").Populate("pets.owner").All(ctx)
			require.NoError(t, err)
			assert.Equal(t, int32(3), store.finds.Load())
		})
	}
}

func TestToJSON(t *testing.T) {
	ctx := context.Background()
	o, _ := initialize(t)
	users := o.MustCollection("user")
	pets := o.MustCollection("pet")

	neil, err := users.Create(ctx, map[string]interface{}{"username": "neil", "password": "hunter2"})
	require.NoError(t, err)
	_, err = pets.Create(ctx, map[string]interface{}{"name": "Astro", "owner": neil.ID()})
	require.NoError(t, err)

	found, err := users.FindOne(ctx, map[string]interface{}{"id": neil.ID()}, "pets")
	require.NoError(t, err)

	before := found.Values()
	out := found.ToJSON()
	assert.NotContains(t, out, "password")
	assert.Len(t, out["pets"], 1)
	assert.Equal(t, "hunter2", found.Get("password"))
	assert.Equal(t, before, found.Values())
	assert.Equal(t, out, found.ToJSON())

	raw, err := json.Marshal(found)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.Contains(t, string(raw), "Astro")
}

func TestCrossAdapterPopulate(t *testing.T) {
	ctx := context.Background()
	defs := definitions()
	defs[1].Connection = "disk"

	o, err := Initialize(ctx, Config{
		Adapters: map[string]adapter.Adapter{
			"memory": memory.New(),
			"bolt":   boltstore.New(filepath.Join(t.TempDir(), "pets.db")),
		},
		Connections: map[string]adapter.Connection{
			adapter.DefaultConnection: {Adapter: "memory"},
			"disk":                    {Adapter: "bolt"},
		},
	}, defs...)
	require.NoError(t, err)
	defer o.Teardown(ctx)

	assert.Equal(t, "memory", o.AdapterName("user"))
	assert.Equal(t, "bolt", o.AdapterName("pet"))

	neil, err := o.MustCollection("user").Create(ctx, map[string]interface{}{"username": "neil"})
	require.NoError(t, err)
	_, err = o.MustCollection("pet").Create(ctx, map[string]interface{}{"name": "Astro", "owner": neil.ID()})
	require.NoError(t, err)

	found, err := o.MustCollection("user").FindOne(ctx, map[string]interface{}{"username": "neil"}, "pets")
	require.NoError(t, err)
	require.Len(t, found.Related("pets"), 1)
	assert.Equal(t, "Astro", found.Related("pets")[0].Get("name"))
}

func TestInitializeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown association target", func(t *testing.T) {
		_, err := Initialize(ctx, memoryConfig(memory.New()), definitions()[0])
		var unknown *schema.UnknownModelError
		assert.True(t, errors.As(err, &unknown))
	})

	t.Run("unbound connection", func(t *testing.T) {
		defs := definitions()
		defs[0].Connection = "warehouse"
		_, err := Initialize(ctx, memoryConfig(memory.New()), defs...)

		var unbound *adapter.UnboundConnectionError
		require.True(t, errors.As(err, &unbound))
		assert.Equal(t, "warehouse", unbound.Connection)
	})

	t.Run("unregistered adapter", func(t *testing.T) {
		cfg := memoryConfig(memory.New())
		cfg.Connections[adapter.DefaultConnection] = adapter.Connection{Adapter: "mongo"}
		_, err := Initialize(ctx, cfg, definitions()...)

		var unregistered *adapter.UnregisteredAdapterError
		require.True(t, errors.As(err, &unregistered))
		assert.Equal(t, "mongo", unregistered.Adapter)
	})

	t.Run("registration failure", func(t *testing.T) {
		cfg := memoryConfig(&brokenAdapter{Adapter: memory.New()})
		_, err := Initialize(ctx, cfg, definitions()...)

		var reg *adapter.RegistrationError
		require.True(t, errors.As(err, &reg))
		assert.Equal(t, "memory", reg.Adapter)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	o, _ := initialize(t)

	var names []string
	for _, c := range o.Collections() {
		names = append(names, c.Identity())
	}
	assert.Equal(t, []string{"pet", "user"}, names)
	assert.Equal(t, []string{"pet", "user"}, o.Registry().Identities())

	_, err := o.Collection("planet")
	assert.ErrorIs(t, err, ErrUnknownCollection)
	assert.Panics(t, func() { o.MustCollection("planet") })

	require.NoError(t, o.Teardown(ctx))
	require.NoError(t, o.Teardown(ctx))

	_, err = o.Collection("user")
	assert.ErrorIs(t, err, ErrTornDown)
}

func TestInitializeLogging(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)

	cfg := memoryConfig(memory.New())
	cfg.Logger = zap.New(core)
	o, err := Initialize(ctx, cfg, definitions()...)
	require.NoError(t, err)
	defer o.Teardown(ctx)

	entries := logs.FilterMessage("ontology initialized").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["collections"])

	_, err = o.MustCollection("user").Find().WhereEq("username", "neil").All(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, logs.FilterMessage("adapter call").FilterField(zap.String("op", "find")).All())
}
