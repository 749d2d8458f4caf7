package connectors

import (
	"fmt"
	"sync"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.ConnectorRegistry = (*Registry)(nil)

// Registry maps provider types to their connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[domain.IntegrationType]driven.Connector
}

// NewRegistry creates a registry holding the given connectors.
func NewRegistry(connectors ...driven.Connector) *Registry {
	r := &Registry{connectors: make(map[domain.IntegrationType]driven.Connector)}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for its provider type.
func (r *Registry) Register(c driven.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Type()] = c
}

// Get returns the connector for a provider type.
func (r *Registry) Get(t domain.IntegrationType) (driven.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, t)
	}
	return c, nil
}
