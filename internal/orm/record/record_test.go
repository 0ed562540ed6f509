package record

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/conduit-lang/waterline/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModels(t *testing.T) (user, pet *schema.Model) {
	t.Helper()
	registry, err := schema.Build(
		&schema.Definition{
			Identity: "user",
			Attributes: map[string]interface{}{
				"username": map[string]interface{}{"type": "string", "unique": true},
				"password": "string",
				"pets":     map[string]interface{}{"collection": "pet", "via": "owner"},
			},
			ToJSON: schema.Omit("password"),
		},
		&schema.Definition{
			Identity: "pet",
			Attributes: map[string]interface{}{
				"name":  "string",
				"tags":  "array",
				"owner": map[string]interface{}{"model": "user"},
			},
		},
	)
	require.NoError(t, err)
	user, _ = registry.Get("user")
	pet, _ = registry.Get("pet")
	return user, pet
}

func TestRecordChanges(t *testing.T) {
	_, pet := testModels(t)

	rec := Persisted(pet, map[string]interface{}{"id": "p1", "name": "Astro", "tags": []interface{}{"dog"}})
	assert.True(t, rec.IsPersisted())
	assert.False(t, rec.IsDirty())

	require.NoError(t, rec.Set("name", "Odie"))
	rec.Unset("tags")

	changes := rec.Changes()
	assert.Equal(t, []string{"name", "tags"}, changes.ChangedFields())
	assert.Equal(t, map[string]interface{}{"name": "Odie", "tags": nil}, changes.ChangedData())
	assert.Equal(t, "Astro", rec.Snapshot()["name"])

	rec.MarkPersisted(map[string]interface{}{"id": "p1", "name": "Odie"})
	assert.False(t, rec.IsDirty())
}

func TestRecordSet(t *testing.T) {
	user, pet := testModels(t)

	owner := Persisted(user, map[string]interface{}{"id": "u1", "username": "neil"})
	rec := New(pet, map[string]interface{}{"name": "Astro"})

	require.NoError(t, rec.Set("owner", owner))
	assert.Equal(t, "u1", rec.Get("owner"), "model attributes hold the key, not the record")

	assert.True(t, errors.Is(rec.Set("color", "brown"), ErrUnknownAttribute))
	assert.True(t, errors.Is(owner.Set("pets", []interface{}{"p1"}), ErrNotStored))
	assert.True(t, errors.Is(owner.Set("id", "u2"), ErrImmutableKey))
	assert.NoError(t, owner.Set("id", "u1"))
}

func TestRecordSetCollection(t *testing.T) {
	user, pet := testModels(t)

	owner := Persisted(user, map[string]interface{}{"id": "u1", "username": "neil"})
	astro := Persisted(pet, map[string]interface{}{"id": "p1", "name": "Astro"})

	require.NoError(t, owner.SetCollection("pets", astro, "p2"))
	assert.True(t, owner.IsDirty())
	assert.Equal(t, map[string][]interface{}{"pets": {"p1", "p2"}}, owner.PendingCollections())

	assert.True(t, errors.Is(owner.SetCollection("username"), ErrUnknownAttribute))

	owner.MarkPersisted(owner.Values())
	assert.Empty(t, owner.PendingCollections())
}

func TestRecordNilReferences(t *testing.T) {
	user, pet := testModels(t)

	stray := Persisted(pet, map[string]interface{}{"id": "p3", "name": "Rex", "owner": "u9"})
	stray.Attach("owner", (*Record)(nil))

	t.Run("unresolved model reference clears the key", func(t *testing.T) {
		rec := Persisted(pet, map[string]interface{}{"id": "p1", "name": "Astro", "owner": "u1"})
		require.NoError(t, rec.Set("owner", stray.RelatedOne("owner")))
		assert.Nil(t, rec.Get("owner"))
		assert.Equal(t, map[string]interface{}{"owner": nil}, rec.Changes().ChangedData())
	})

	t.Run("nil collection members are rejected", func(t *testing.T) {
		owner := Persisted(user, map[string]interface{}{"id": "u1", "username": "neil"})

		err := owner.SetCollection("pets", stray.RelatedOne("owner"))
		assert.True(t, errors.Is(err, ErrNilMember))

		err = owner.SetCollection("pets", "p1", nil)
		assert.True(t, errors.Is(err, ErrNilMember))
		assert.Empty(t, owner.PendingCollections())
	})
}

func TestRecordToJSON(t *testing.T) {
	user, pet := testModels(t)

	owner := Persisted(user, map[string]interface{}{"id": "u1", "username": "neil", "password": "secret"})
	astro := Persisted(pet, map[string]interface{}{"id": "p1", "name": "Astro", "owner": "u1"})
	owner.Attach("pets", []*Record{astro})

	t.Run("transform does not mutate the record", func(t *testing.T) {
		first := owner.ToJSON()
		second := owner.ToJSON()

		assert.NotContains(t, first, "password")
		assert.Equal(t, first, second)
		assert.Equal(t, "secret", owner.Get("password"))
	})

	t.Run("populated associations render through their own transform", func(t *testing.T) {
		withOwner := Persisted(pet, astro.Values())
		withOwner.Attach("owner", Persisted(user, owner.Values()))

		obj := withOwner.ToJSON()
		ownerObj, ok := obj["owner"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "neil", ownerObj["username"])
		assert.NotContains(t, ownerObj, "password")
		assert.Equal(t, "u1", withOwner.Get("owner"))
	})

	t.Run("marshal", func(t *testing.T) {
		data, err := json.Marshal(owner)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, "neil", decoded["username"])
		assert.NotContains(t, decoded, "password")
		pets, ok := decoded["pets"].([]interface{})
		require.True(t, ok)
		require.Len(t, pets, 1)
	})

	t.Run("unpopulated association", func(t *testing.T) {
		lone := Persisted(pet, map[string]interface{}{"id": "p2", "name": "Rex"})
		lone.Attach("owner", (*Record)(nil))
		obj := lone.ToJSON()
		assert.Contains(t, obj, "owner")
		assert.Nil(t, obj["owner"])
		assert.Nil(t, lone.RelatedOne("owner"))
		assert.Nil(t, owner.Related("missing"))
	})
}
