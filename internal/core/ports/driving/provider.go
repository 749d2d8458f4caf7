package driving

import (
	"context"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// ProviderService describes the supported providers and whether this
// deployment has client credentials for them.
type ProviderService interface {
	// List returns every supported provider in catalog order.
	List(ctx context.Context) ([]*ProviderListItem, error)

	// Get returns one provider.
	// Returns domain.ErrUnsupportedProvider for unknown types.
	Get(ctx context.Context, t domain.IntegrationType) (*ProviderListItem, error)
}

// ProviderListItem represents a provider in the list response.
// @Description A supported provider and its configuration status
type ProviderListItem struct {
	domain.ProviderInfo
	Description string   `json:"description" example:"Profit and loss, burn rate and runway"`
	Resources   []string `json:"resources,omitempty"`
	DocsURL     string   `json:"docs_url,omitempty"`
}
