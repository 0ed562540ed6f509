package adapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/adapter/memory"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

func models(t *testing.T, connections ...string) []*schema.Model {
	t.Helper()
	var out []*schema.Model
	for i, conn := range connections {
		m, err := schema.ParseDefinition(&schema.Definition{
			Identity:   []string{"user", "pet", "toy"}[i],
			Connection: conn,
			Attributes: map[string]interface{}{"name": map[string]interface{}{"type": "string", "unique": true}},
		})
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestBind(t *testing.T) {
	mem := memory.New()
	disk := memory.New()
	adapters := map[string]adapter.Adapter{"memory": mem, "disk": disk}

	t.Run("binds every model", func(t *testing.T) {
		b, err := adapter.Bind(adapters, map[string]adapter.Connection{
			"default": {Adapter: "memory"},
			"archive": {Adapter: "disk"},
		}, models(t, "", "archive", "default"))
		require.NoError(t, err)

		got, ok := b.For("pet")
		require.True(t, ok)
		assert.Same(t, disk, got)
		assert.Equal(t, "memory", b.AdapterName("user"))
		assert.Equal(t, []string{"disk", "memory"}, b.AdapterNames())

		var ids []string
		for _, m := range b.ModelsFor("memory") {
			ids = append(ids, m.Identity)
		}
		assert.Equal(t, []string{"toy", "user"}, ids)

		_, ok = b.For("ghost")
		assert.False(t, ok)
	})

	t.Run("unbound connection", func(t *testing.T) {
		_, err := adapter.Bind(adapters, map[string]adapter.Connection{
			"default": {Adapter: "memory"},
		}, models(t, "default", "archive"))

		var unbound *adapter.UnboundConnectionError
		require.True(t, errors.As(err, &unbound))
		assert.Equal(t, "pet", unbound.Identity)
		assert.Equal(t, "archive", unbound.Connection)
	})

	t.Run("unregistered adapter", func(t *testing.T) {
		_, err := adapter.Bind(adapters, map[string]adapter.Connection{
			"default": {Adapter: "sails-mysql"},
		}, models(t, "default"))

		var unregistered *adapter.UnregisteredAdapterError
		require.True(t, errors.As(err, &unregistered))
		assert.Equal(t, "sails-mysql", unregistered.Adapter)
	})
}

func TestBindingsRegisterAndTeardown(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()

	b, err := adapter.Bind(map[string]adapter.Adapter{"memory": mem},
		map[string]adapter.Connection{"default": {Adapter: "memory"}},
		models(t, "default", "default"))
	require.NoError(t, err)

	require.NoError(t, b.Register(ctx))
	_, err = mem.Create(ctx, "pet", map[string]interface{}{"id": "p1", "name": "Astro"})
	require.NoError(t, err)

	require.NoError(t, b.Teardown(ctx))
	_, err = mem.Find(ctx, "pet", nil)
	assert.ErrorIs(t, err, adapter.ErrClosed)
}

func TestCheckUnique(t *testing.T) {
	model := models(t, "default")[0]
	existing := []map[string]interface{}{
		{"id": "1", "name": "neil"},
		{"id": "2", "name": nil},
	}

	assert.NoError(t, adapter.CheckUnique(model, existing, map[string]interface{}{"id": "3", "name": "buzz"}, nil))
	assert.NoError(t, adapter.CheckUnique(model, existing, map[string]interface{}{"id": "3", "name": nil}, nil))
	assert.Error(t, adapter.CheckUnique(model, existing, map[string]interface{}{"id": "3", "name": "neil"}, nil))

	self := func(row map[string]interface{}) bool { return row["id"] == "1" }
	assert.NoError(t, adapter.CheckUnique(model, existing, map[string]interface{}{"id": "1", "name": "neil"}, self))

	assert.Equal(t, adapter.IndexKey(3), adapter.IndexKey(3.0))
}

func TestWithLogging(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)

	mem := memory.New()
	a := adapter.WithLogging(mem, "memory", zap.New(core))
	require.NoError(t, a.Register(ctx, models(t, "default")))

	_, err := a.Create(ctx, "user", map[string]interface{}{"id": "1", "name": "neil"})
	require.NoError(t, err)
	_, err = a.Create(ctx, "user", map[string]interface{}{"id": "2", "name": "neil"})
	require.Error(t, err)
	_, err = a.Find(ctx, "user", query.Eq("name", "neil"))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("adapter call failed").Len())
	finds := logs.FilterField(zap.String("op", "find")).All()
	require.Len(t, finds, 1)
	assert.Equal(t, "name = neil", finds[0].ContextMap()["criteria"])

	assert.Same(t, mem, adapter.WithLogging(mem, "memory", nil))
}
