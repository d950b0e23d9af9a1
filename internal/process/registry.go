package process

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tilegrid/procserve/internal/domain"
)

// Registry maps process IDs to their capability objects. Processes are
// registered explicitly at startup; there is no dynamic loading.
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]Process
}

// NewRegistry returns an empty process registry.
func NewRegistry() *Registry {
	return &Registry{processes: make(map[string]Process)}
}

// Register adds p under the ID its description declares. Registering a
// duplicate ID is a startup wiring mistake and returns an error.
func (r *Registry) Register(p Process) error {
	desc := p.Describe()
	if desc.ID == "" {
		return fmt.Errorf("process description is missing an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processes[desc.ID]; exists {
		return fmt.Errorf("process %q is already registered", desc.ID)
	}
	r.processes[desc.ID] = p
	return nil
}

// Lookup returns the process registered under processID.
func (r *Registry) Lookup(processID string) (Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[processID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessNotFound, processID)
	}
	return p, nil
}

// IDs returns the registered process IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.processes))
	for id := range r.processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
