package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Adapter {
	t.Helper()
	model, err := schema.ParseDefinition(&schema.Definition{
		Identity: "user",
		Attributes: map[string]interface{}{
			"username": map[string]interface{}{"type": "string", "unique": true},
			"age":      "integer",
		},
	})
	require.NoError(t, err)

	a := New()
	require.NoError(t, a.Register(context.Background(), []*schema.Model{model}))
	return a
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	a := setup(t)

	for i, name := range []string{"neil", "buzz", "sally"} {
		_, err := a.Create(ctx, "user", map[string]interface{}{"id": name, "username": name, "age": 30 + i, "extra": true})
		require.NoError(t, err)
	}

	rows, err := a.Find(ctx, "user", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "neil", rows[0]["username"], "insertion order")
	assert.NotContains(t, rows[0], "extra")

	rows, err = a.Find(ctx, "user", &query.Criteria{
		Where: []*query.Condition{{Field: "age", Operator: query.OpGreaterThan, Value: 30}},
		Sort:  []query.SortField{{Field: "age", Direction: query.Desc}},
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sally", rows[0]["username"])

	rows[0]["username"] = "mutated"
	again, err := a.Find(ctx, "user", query.Eq("id", "sally"))
	require.NoError(t, err)
	assert.Equal(t, "sally", again[0]["username"], "results are copies")
}

func TestUniqueness(t *testing.T) {
	ctx := context.Background()
	a := setup(t)

	_, err := a.Create(ctx, "user", map[string]interface{}{"id": "1", "username": "neil"})
	require.NoError(t, err)

	_, err = a.Create(ctx, "user", map[string]interface{}{"id": "2", "username": "neil"})
	var uv *adapter.UniqueViolationError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "username", uv.Attribute)

	_, err = a.Create(ctx, "user", map[string]interface{}{"id": "1", "username": "buzz"})
	assert.True(t, adapter.IsUniqueViolation(err), "primary key is unique")

	assert.Equal(t, 1, a.Len("user"))

	_, err = a.Create(ctx, "user", map[string]interface{}{"id": "3"})
	require.NoError(t, err)
	_, err = a.Create(ctx, "user", map[string]interface{}{"id": "4"})
	require.NoError(t, err, "missing values never collide")
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	a := setup(t)

	_, _ = a.Create(ctx, "user", map[string]interface{}{"id": "1", "username": "neil", "age": 38})
	_, _ = a.Create(ctx, "user", map[string]interface{}{"id": "2", "username": "buzz", "age": 39})

	updated, err := a.Update(ctx, "user", query.Eq("id", "1"), map[string]interface{}{"age": 40})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 40, updated[0]["age"])

	_, err = a.Update(ctx, "user", query.Eq("id", "1"), map[string]interface{}{"username": "buzz"})
	assert.True(t, adapter.IsUniqueViolation(err))

	_, err = a.Update(ctx, "user", nil, map[string]interface{}{"username": "same"})
	assert.True(t, adapter.IsUniqueViolation(err), "two rows rewritten to the same value")

	rows, _ := a.Find(ctx, "user", query.Eq("id", "1"))
	assert.Equal(t, "neil", rows[0]["username"], "failed update leaves rows untouched")

	updated, err = a.Update(ctx, "user", query.Eq("id", "1"), map[string]interface{}{"age": nil})
	require.NoError(t, err)
	assert.NotContains(t, updated[0], "age")

	updated, err = a.Update(ctx, "user", query.Eq("id", "9"), map[string]interface{}{"age": 1})
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestDestroyAndTeardown(t *testing.T) {
	ctx := context.Background()
	a := setup(t)

	_, _ = a.Create(ctx, "user", map[string]interface{}{"id": "1", "username": "neil"})
	_, _ = a.Create(ctx, "user", map[string]interface{}{"id": "2", "username": "buzz"})

	n, err := a.Destroy(ctx, "user", query.Eq("username", "neil"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, a.Len("user"))

	_, err = a.Find(ctx, "pet", nil)
	assert.ErrorIs(t, err, adapter.ErrUnknownCollection)

	require.NoError(t, a.Teardown(ctx))
	_, err = a.Find(ctx, "user", nil)
	assert.ErrorIs(t, err, adapter.ErrClosed)
}
