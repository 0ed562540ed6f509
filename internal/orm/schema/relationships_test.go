package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelDef(identity string, attrs map[string]interface{}) *Definition {
	return &Definition{Identity: identity, Attributes: attrs}
}

func TestRelationshipGraph(t *testing.T) {
	t.Run("simple dependency chain", func(t *testing.T) {
		// comment -> post -> user
		registry, err := Build(
			modelDef("user", map[string]interface{}{"name": "string"}),
			modelDef("post", map[string]interface{}{"author": map[string]interface{}{"model": "user"}}),
			modelDef("comment", map[string]interface{}{"post": map[string]interface{}{"model": "post"}}),
		)
		require.NoError(t, err)

		graph := NewRelationshipGraph(registry.All())
		assert.Equal(t, []string{"user"}, graph.GetDependencies("post"))
		assert.Equal(t, []string{"comment"}, graph.GetDependents("post"))
		assert.Empty(t, graph.GetDependencies("user"))

		order, err := registry.DependencyOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"user", "post", "comment"}, order)
	})

	t.Run("self reference is not a cycle", func(t *testing.T) {
		registry, err := Build(
			modelDef("employee", map[string]interface{}{"manager": map[string]interface{}{"model": "employee"}}),
		)
		require.NoError(t, err)

		assert.Empty(t, NewRelationshipGraph(registry.All()).DetectCycles())
		order, err := registry.DependencyOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"employee"}, order)
	})

	t.Run("mutual many-to-one is reported", func(t *testing.T) {
		registry, err := Build(
			modelDef("a", map[string]interface{}{"b": map[string]interface{}{"model": "b"}}),
			modelDef("b", map[string]interface{}{"a": map[string]interface{}{"model": "a"}}),
		)
		require.NoError(t, err, "cycles are legal between associations")

		_, err = registry.DependencyOrder()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a -> b -> a")

		report := registry.AnalyzeDependencies()
		assert.True(t, report.HasCycles)
		assert.True(t, strings.HasPrefix(report.String(), "Dependency Analysis Report"))
	})

	t.Run("report lists order", func(t *testing.T) {
		registry, err := Build(userDefinition(), petDefinition())
		require.NoError(t, err)

		report := registry.AnalyzeDependencies()
		assert.False(t, report.HasCycles)
		assert.Equal(t, []string{"user", "pet"}, report.TopologicalOrder)
		assert.Contains(t, report.String(), "2. pet (depends on: user)")
	})
}
