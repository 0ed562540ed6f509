package schema

import (
	"fmt"
	"sort"
)

// Registry is the read-only mapping identity -> model produced by Build. It is never
// mutated after Build returns, so concurrent readers need no locking.
type Registry struct {
	models map[string]*Model
}

// Build parses a batch of definitions and validates every cross-model reference
// against the same batch
func Build(defs ...*Definition) (*Registry, error) {
	models := make(map[string]*Model, len(defs))

	for _, def := range defs {
		model, err := ParseDefinition(def)
		if err != nil {
			return nil, err
		}
		if _, exists := models[model.Identity]; exists {
			return nil, &DuplicateIdentityError{Identity: model.Identity}
		}
		models[model.Identity] = model
	}

	r := &Registry{models: models}
	if err := r.resolveAssociations(); err != nil {
		return nil, err
	}
	return r, nil
}

// resolveAssociations checks association targets and via back-references, and types
// model attributes after their target's primary key
func (r *Registry) resolveAssociations() error {
	for _, identity := range r.Identities() {
		model := r.models[identity]

		for _, attr := range model.Associations() {
			target, ok := r.models[attr.Target]
			if !ok {
				return &UnknownModelError{Identity: identity, Attribute: attr.Name, Target: attr.Target}
			}

			switch attr.Kind {
			case KindModel:
				attr.Type = target.Attributes[target.PrimaryKey].Type
			case KindCollection:
				back, ok := target.Attributes[attr.Via]
				if !ok {
					return &InvalidViaError{Identity: identity, Attribute: attr.Name, Target: attr.Target, Via: attr.Via,
						Reason: "no such attribute"}
				}
				if back.Kind != KindModel || back.Target != identity {
					return &InvalidViaError{Identity: identity, Attribute: attr.Name, Target: attr.Target, Via: attr.Via,
						Reason: fmt.Sprintf("must be a model association pointing to %s", identity)}
				}
			}
		}
	}
	return nil
}

// Get retrieves a model by identity
func (r *Registry) Get(identity string) (*Model, bool) {
	model, exists := r.models[identity]
	return model, exists
}

// All returns a copy of the identity -> model mapping
func (r *Registry) All() map[string]*Model {
	result := make(map[string]*Model, len(r.models))
	for k, v := range r.models {
		result[k] = v
	}
	return result
}

// Identities returns all model identities in sorted order
func (r *Registry) Identities() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of models
func (r *Registry) Count() int {
	return len(r.models)
}

// Exists checks if a model exists
func (r *Registry) Exists(identity string) bool {
	_, exists := r.models[identity]
	return exists
}

// ByConnection groups model identities by connection name
func (r *Registry) ByConnection() map[string][]string {
	result := make(map[string][]string)
	for _, identity := range r.Identities() {
		conn := r.models[identity].Connection
		result[conn] = append(result[conn], identity)
	}
	return result
}

// DependencyOrder returns models with many-to-one targets before their dependents
func (r *Registry) DependencyOrder() ([]string, error) {
	return NewRelationshipGraph(r.models).TopologicalSort()
}

// AnalyzeDependencies returns a dependency analysis report
func (r *Registry) AnalyzeDependencies() *DependencyReport {
	return NewDependencyAnalyzer(r.models).Analyze()
}

// RegistryStats holds counts about the registry
type RegistryStats struct {
	TotalModels       int
	TotalAttributes   int
	TotalAssociations int
	TotalUnique       int
	ModelsWithHooks   int
	ModelsWithToJSON  int
	HasCycles         bool
}

// GetStats returns statistics about the registry
func (r *Registry) GetStats() *RegistryStats {
	stats := &RegistryStats{TotalModels: len(r.models)}

	for _, model := range r.models {
		stats.TotalAttributes += len(model.Attributes)
		stats.TotalAssociations += len(model.Associations())
		for _, attr := range model.Attributes {
			if attr.Unique && !attr.PrimaryKey {
				stats.TotalUnique++
			}
		}
		if len(model.Hooks) > 0 {
			stats.ModelsWithHooks++
		}
		if model.ToJSON != nil {
			stats.ModelsWithToJSON++
		}
	}

	stats.HasCycles = len(NewRelationshipGraph(r.models).DetectCycles()) > 0
	return stats
}
