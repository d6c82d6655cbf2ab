package engine

import (
	"sort"

	"github.com/louisbranch/gametable/internal/errors"
)

// Registry maps game type names to engines.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates a registry holding the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// Register adds an engine, replacing any previous engine of the same name.
func (r *Registry) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Get returns the engine for a game type.
func (r *Registry) Get(gameType string) (Engine, error) {
	e, ok := r.engines[gameType]
	if !ok {
		return nil, errors.WithMetadata(errors.CodeUnknownGameType, "unknown game type",
			map[string]string{"gameType": gameType})
	}
	return e, nil
}

// Names returns the registered game type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
