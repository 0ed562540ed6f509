package relationships

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/waterline/internal/orm/adapter/memory"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

type fixture struct {
	registry *schema.Registry
	store    *memory.Adapter
	calls    atomic.Int32
	failOn   string
	resolver *Resolver
}

func setup(t *testing.T) *fixture {
	t.Helper()
	registry, err := schema.Build(
		&schema.Definition{
			Identity: "user",
			Attributes: map[string]interface{}{
				"username": map[string]interface{}{"type": "string", "unique": true},
				"pets":     map[string]interface{}{"collection": "pet", "via": "owner"},
				"toys":     map[string]interface{}{"collection": "toy", "via": "maker"},
			},
		},
		&schema.Definition{
			Identity: "pet",
			Attributes: map[string]interface{}{
				"name":  "string",
				"age":   "integer",
				"owner": map[string]interface{}{"model": "user"},
			},
		},
		&schema.Definition{
			Identity: "toy",
			Attributes: map[string]interface{}{
				"label": "string",
				"maker": map[string]interface{}{"model": "user"},
			},
		},
	)
	require.NoError(t, err)

	store := memory.New()
	var models []*schema.Model
	for _, id := range registry.Identities() {
		m, _ := registry.Get(id)
		models = append(models, m)
	}
	require.NoError(t, store.Register(context.Background(), models))

	f := &fixture{registry: registry, store: store}
	f.resolver = NewResolver(registry, FetcherFunc(func(ctx context.Context, identity string, c *query.Criteria) ([]map[string]interface{}, error) {
		f.calls.Add(1)
		if identity == f.failOn {
			return nil, errors.New("connection reset")
		}
		return store.Find(ctx, identity, c)
	}))
	return f
}

func (f *fixture) create(t *testing.T, identity string, values map[string]interface{}) {
	t.Helper()
	_, err := f.store.Create(context.Background(), identity, values)
	require.NoError(t, err)
}

func (f *fixture) model(identity string) *schema.Model {
	m, _ := f.registry.Get(identity)
	return m
}

func names(records []*record.Record, attr string) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.String(attr)
	}
	return out
}

func populate(names ...string) *query.Criteria {
	c := query.NewCriteria()
	for _, n := range names {
		c.Populate = append(c.Populate, &query.Population{Name: n})
	}
	return c
}

func TestResolveCollection(t *testing.T) {
	f := setup(t)
	f.create(t, "user", map[string]interface{}{"id": "u1", "username": "neil"})
	f.create(t, "user", map[string]interface{}{"id": "u2", "username": "buzz"})
	f.create(t, "user", map[string]interface{}{"id": "u3", "username": "sally"})
	f.create(t, "pet", map[string]interface{}{"id": "p1", "name": "Astro", "owner": "u1"})
	f.create(t, "pet", map[string]interface{}{"id": "p2", "name": "Rex", "owner": "u2"})
	f.create(t, "pet", map[string]interface{}{"id": "p3", "name": "Odie", "owner": "u1"})
	f.create(t, "pet", map[string]interface{}{"id": "p4", "name": "Stray"})

	op := NewOperation()
	users, err := f.resolver.Find(context.Background(), f.model("user"), populate("pets"), op)
	require.NoError(t, err)
	require.Len(t, users, 3)

	assert.Equal(t, []string{"Astro", "Odie"}, names(users[0].Related("pets"), "name"))
	assert.Equal(t, []string{"Rex"}, names(users[1].Related("pets"), "name"))

	empty := users[2].Related("pets")
	assert.NotNil(t, empty, "a user without pets gets an empty slice")
	assert.Empty(t, empty)

	for _, u := range users {
		for _, p := range u.Related("pets") {
			assert.Equal(t, u.ID(), p.Get("owner"))
		}
	}

	assert.Equal(t, []State{Pending, FetchingPrimary, FetchingAssociations, Attached}, op.Transitions())
	fetches := op.Fetches()
	require.Len(t, fetches, 2)
	assert.Equal(t, "pets", fetches[1].Association)
	assert.Equal(t, "owner IN [u1 u2 u3]", fetches[1].Criteria)
}

func TestResolveModel(t *testing.T) {
	f := setup(t)
	f.create(t, "user", map[string]interface{}{"id": "u1", "username": "neil"})
	f.create(t, "pet", map[string]interface{}{"id": "p1", "name": "Astro", "owner": "u1"})
	f.create(t, "pet", map[string]interface{}{"id": "p2", "name": "Stray"})
	f.create(t, "pet", map[string]interface{}{"id": "p3", "name": "Ghost", "owner": "u404"})
	f.create(t, "pet", map[string]interface{}{"id": "p4", "name": "Odie", "owner": "u1"})

	pets, err := f.resolver.Find(context.Background(), f.model("pet"), populate("owner"), nil)
	require.NoError(t, err)
	require.Len(t, pets, 4)

	require.NotNil(t, pets[0].RelatedOne("owner"))
	assert.Equal(t, "neil", pets[0].RelatedOne("owner").String("username"))
	assert.Nil(t, pets[1].RelatedOne("owner"))
	assert.Nil(t, pets[2].RelatedOne("owner"))
	assert.Same(t, pets[0].RelatedOne("owner"), pets[3].RelatedOne("owner"))

	_, populated := pets[1].Populated("owner")
	assert.True(t, populated, "missing references are attached as nil")
	assert.Equal(t, "u1", pets[0].Get("owner"), "the key stays a key")
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestNoNPlusOne(t *testing.T) {
	for _, n := range []int{1, 10, 100} {
		t.Run(fmt.Sprintf("%d users", n), func(t *testing.T) {
			f := setup(t)
			for i := 0; i < n; i++ {
				uid := fmt.Sprintf("u%d", i)
				f.create(t, "user", map[string]interface{}{"id": uid, "username": uid})
				f.create(t, "pet", map[string]interface{}{"id": "p" + uid, "name": "pet of " + uid, "owner": uid})
				f.create(t, "toy", map[string]interface{}{"id": "t" + uid, "label": "toy", "maker": uid})
			}

			users, err := f.resolver.Find(context.Background(), f.model("user"), populate("pets", "toys"), nil)
			require.NoError(t, err)
			require.Len(t, users, n)
			for _, u := range users {
				assert.Len(t, u.Related("pets"), 1)
				assert.Len(t, u.Related("toys"), 1)
			}

			assert.EqualValues(t, 3, f.calls.Load(), "one primary fetch plus one per association")
		})
	}
}

func TestUnresolvedAssociation(t *testing.T) {
	f := setup(t)
	f.create(t, "user", map[string]interface{}{"id": "u1", "username": "neil"})

	for _, name := range []string{"cats", "username"} {
		op := NewOperation()
		_, err := f.resolver.Find(context.Background(), f.model("user"), populate(name), op)

		var unresolved *UnresolvedAssociationError
		require.True(t, errors.As(err, &unresolved), "populate %s", name)
		assert.Equal(t, name, unresolved.Association)
		assert.Equal(t, Failed, op.State())
	}
	assert.EqualValues(t, 0, f.calls.Load(), "rejected before any fetch")
}

func TestPartialFailureFailsThePopulation(t *testing.T) {
	f := setup(t)
	f.create(t, "user", map[string]interface{}{"id": "u1", "username": "neil"})
	f.create(t, "pet", map[string]interface{}{"id": "p1", "name": "Astro", "owner": "u1"})
	f.create(t, "toy", map[string]interface{}{"id": "t1", "label": "ball", "maker": "u1"})
	f.failOn = "toy"

	op := NewOperation()
	users, err := f.resolver.Find(context.Background(), f.model("user"), populate("pets", "toys"), op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Nil(t, users)
	assert.Equal(t, Failed, op.State())
}

func TestPopulateRecordsDirectly(t *testing.T) {
	f := setup(t)
	f.create(t, "user", map[string]interface{}{"id": "u1", "username": "neil"})
	f.create(t, "pet", map[string]interface{}{"id": "p1", "name": "Astro", "owner": "u1"})
	f.failOn = "pet"

	user := record.Persisted(f.model("user"), map[string]interface{}{"id": "u1", "username": "neil"})
	err := f.resolver.Populate(context.Background(), f.model("user"), []*record.Record{user}, populate("pets").Populate, nil)
	require.Error(t, err)

	_, attached := user.Populated("pets")
	assert.False(t, attached, "nothing is attached when a fetch fails")

	f.failOn = ""
	require.NoError(t, f.resolver.Populate(context.Background(), f.model("user"), []*record.Record{user}, populate("pets").Populate, nil))
	assert.Len(t, user.Related("pets"), 1)
}

func TestNestedAndFilteredPopulations(t *testing.T) {
	f := setup(t)
	f.create(t, "user", map[string]interface{}{"id": "u1", "username": "neil"})
	f.create(t, "user", map[string]interface{}{"id": "u2", "username": "buzz"})
	for i, name := range []string{"Astro", "Odie", "Rex", "Lassie"} {
		owner := "u1"
		if i%2 == 1 {
			owner = "u2"
		}
		f.create(t, "pet", map[string]interface{}{"id": fmt.Sprintf("p%d", i), "name": name, "age": i + 1, "owner": owner})
	}

	t.Run("sort and limit per parent", func(t *testing.T) {
		crit := &query.Criteria{Populate: []*query.Population{{
			Name:     "pets",
			Criteria: &query.Criteria{Sort: []query.SortField{{Field: "age", Direction: query.Desc}}, Limit: 1},
		}}}

		users, err := f.resolver.Find(context.Background(), f.model("user"), crit, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Rex"}, names(users[0].Related("pets"), "name"))
		assert.Equal(t, []string{"Lassie"}, names(users[1].Related("pets"), "name"))
	})

	t.Run("filtered", func(t *testing.T) {
		crit := &query.Criteria{Populate: []*query.Population{{
			Name:     "pets",
			Criteria: query.Eq("name", "Astro"),
		}}}

		users, err := f.resolver.Find(context.Background(), f.model("user"), crit, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Astro"}, names(users[0].Related("pets"), "name"))
		assert.Empty(t, users[1].Related("pets"))
	})

	t.Run("nested", func(t *testing.T) {
		f.calls.Store(0)
		crit := &query.Criteria{Populate: []*query.Population{{
			Name:     "pets",
			Criteria: &query.Criteria{Populate: []*query.Population{{Name: "owner"}}},
		}}}

		users, err := f.resolver.Find(context.Background(), f.model("user"), crit, nil)
		require.NoError(t, err)
		pet := users[1].Related("pets")[0]
		require.NotNil(t, pet.RelatedOne("owner"))
		assert.Equal(t, "buzz", pet.RelatedOne("owner").String("username"))
		assert.EqualValues(t, 3, f.calls.Load())
	})

	t.Run("depth limit", func(t *testing.T) {
		crit := &query.Criteria{Populate: []*query.Population{{
			Name:     "pets",
			Criteria: &query.Criteria{Populate: []*query.Population{{Name: "owner"}}},
		}}}

		_, err := f.resolver.WithMaxDepth(1).Find(context.Background(), f.model("user"), crit, nil)
		assert.ErrorIs(t, err, ErrMaxDepthExceeded)
	})
}

func TestEmptyResultSkipsAssociationFetches(t *testing.T) {
	f := setup(t)

	users, err := f.resolver.Find(context.Background(), f.model("user"), populate("pets"), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.EqualValues(t, 1, f.calls.Load())
}
