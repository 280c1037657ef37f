package pipeline

import (
	"context"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

// Extractor produces one raw table worth of rows.
type Extractor interface {
	// Name is the pipeline step name. The generated table is raw_<name>.
	Name() string

	// Extract builds the full batch for the step.
	Extract(ctx context.Context, params Params) (*warehouse.Batch, error)
}

// CoreSteps is the canonical pipeline order. Orders depend on users, so
// the sequence is fixed regardless of registration order.
var CoreSteps = []string{"users", "events", "orders"}

// Registry maps step names to extractors. Built-in generators are
// pre-registered; Register replaces by name so project scripts can
// override them.
type Registry struct {
	byName map[string]Extractor
}

// NewRegistry returns a registry holding the built-in generators.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Extractor)}
	r.Register(&userExtractor{})
	r.Register(&eventExtractor{})
	r.Register(&orderExtractor{})
	return r
}

// Register adds or replaces the extractor for e.Name().
func (r *Registry) Register(e Extractor) {
	r.byName[e.Name()] = e
}

// Lookup returns the extractor registered under name.
func (r *Registry) Lookup(name string) (Extractor, bool) {
	e, ok := r.byName[name]
	return e, ok
}
