package cores

import (
	"fmt"
	"sort"

	"github.com/beam-me/core/internal/abn"
)

// Descriptor is the public catalog entry of a core.
type Descriptor struct {
	ID           string   `json:"id"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Negotiable   bool     `json:"negotiable"`
}

// Registry maps core ids to cores. It is populated once at startup and is
// read-only afterwards.
type Registry struct {
	cores map[string]DisciplineCore
}

// NewRegistry registers cores, rejecting empty and duplicate ids.
func NewRegistry(cores ...DisciplineCore) (*Registry, error) {
	r := &Registry{cores: make(map[string]DisciplineCore, len(cores))}
	for _, core := range cores {
		if core == nil {
			continue
		}
		coreID := core.ID()
		if coreID == "" {
			return nil, fmt.Errorf("core with empty id")
		}
		if _, exists := r.cores[coreID]; exists {
			return nil, fmt.Errorf("core already registered: %s", coreID)
		}
		r.cores[coreID] = core
	}
	return r, nil
}

// Lookup returns the core registered under coreID.
func (r *Registry) Lookup(coreID string) (DisciplineCore, bool) {
	core, ok := r.cores[coreID]
	return core, ok
}

// IDs lists registered core ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.cores))
	for coreID := range r.cores {
		ids = append(ids, coreID)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns the catalog, sorted by id.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.cores))
	for _, coreID := range r.IDs() {
		core := r.cores[coreID]
		d := Descriptor{ID: coreID}
		if desc, ok := core.(Describer); ok {
			d.Description = desc.Description()
			d.Capabilities = desc.Capabilities()
		}
		_, d.Negotiable = core.(abn.Handler)
		out = append(out, d)
	}
	return out
}

// Handler implements abn.HandlerResolver over the registered cores.
func (r *Registry) Handler(coreID string) (abn.Handler, bool) {
	core, ok := r.cores[coreID]
	if !ok {
		return nil, false
	}
	h, ok := core.(abn.Handler)
	return h, ok
}

var _ abn.HandlerResolver = (*Registry)(nil)
