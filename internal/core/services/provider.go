package services

import (
	"context"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

// Ensure providerService implements ProviderService
var _ driving.ProviderService = (*providerService)(nil)

// providerService implements the ProviderService interface.
type providerService struct {
	apps       driven.ProviderAppStore
	connectors driven.ConnectorRegistry
}

// NewProviderService creates a new ProviderService.
func NewProviderService(apps driven.ProviderAppStore, connectors driven.ConnectorRegistry) driving.ProviderService {
	return &providerService{
		apps:       apps,
		connectors: connectors,
	}
}

// List returns all providers with their configuration status.
func (s *providerService) List(ctx context.Context) ([]*driving.ProviderListItem, error) {
	types := domain.AllIntegrationTypes()
	items := make([]*driving.ProviderListItem, 0, len(types))
	for _, t := range types {
		items = append(items, s.item(t))
	}
	return items, nil
}

// Get returns one provider.
func (s *providerService) Get(ctx context.Context, t domain.IntegrationType) (*driving.ProviderListItem, error) {
	if !t.IsValid() {
		return nil, domain.ErrUnsupportedProvider
	}
	return s.item(t), nil
}

func (s *providerService) item(t domain.IntegrationType) *driving.ProviderListItem {
	meta := providerMetadata(t)
	item := &driving.ProviderListItem{
		ProviderInfo: domain.ProviderInfo{
			Type:       t,
			Slug:       t.Slug(),
			Name:       t.DisplayName(),
			Category:   t.Category(),
			AuthMethod: t.AuthMethod(),
			Configured: s.apps.Get(t).IsConfigured(),
		},
		Description: meta.description,
		DocsURL:     meta.docsURL,
	}

	// A provider without a registered connector is listed but has no resources.
	if s.connectors != nil {
		if c, err := s.connectors.Get(t); err == nil {
			if lister, ok := c.(driven.ResourceLister); ok {
				item.Resources = lister.Resources()
			}
		}
	}
	return item
}

// providerMeta holds static metadata about a provider.
type providerMeta struct {
	description string
	docsURL     string
}

// providerMetadata returns static metadata for a provider type.
func providerMetadata(t domain.IntegrationType) providerMeta {
	switch t {
	case domain.IntegrationAsana:
		return providerMeta{
			description: "Completed tasks, adoption rate and time to market",
			docsURL:     "https://developers.asana.com/docs/oauth",
		}
	case domain.IntegrationCalendly:
		return providerMeta{
			description: "Demos booked, lead conversions and event types",
			docsURL:     "https://developer.calendly.com/api-docs",
		}
	case domain.IntegrationGoogleAnalytics:
		return providerMeta{
			description: "Monthly active users, growth and retention",
			docsURL:     "https://developers.google.com/analytics/devguides/reporting/data/v1",
		}
	case domain.IntegrationGoogleSheets:
		return providerMeta{
			description: "Metrics read from a labelled spreadsheet",
			docsURL:     "https://developers.google.com/sheets/api",
		}
	case domain.IntegrationHubSpot:
		return providerMeta{
			description: "Closed-won revenue, contacts and companies",
			docsURL:     "https://developers.hubspot.com/docs/api/oauth-quickstart-guide",
		}
	case domain.IntegrationMonday:
		return providerMeta{
			description: "Active users, completed items and adoption rate",
			docsURL:     "https://developer.monday.com/apps/docs/oauth",
		}
	case domain.IntegrationNotion:
		return providerMeta{
			description: "Pages, revenue and expenses from a Notion database",
			docsURL:     "https://developers.notion.com/docs/authorization",
		}
	case domain.IntegrationQuickBooks:
		return providerMeta{
			description: "Profit and loss, burn rate and runway",
			docsURL:     "https://developer.intuit.com/app/developer/qbo/docs/develop/authentication-and-authorization",
		}
	case domain.IntegrationSalesforce:
		return providerMeta{
			description: "Opportunities, converted leads, contacts and demos",
			docsURL:     "https://help.salesforce.com/s/articleView?id=sf.remoteaccess_oauth_web_server_flow.htm",
		}
	case domain.IntegrationSlack:
		return providerMeta{
			description: "Workspace members and channel activity",
			docsURL:     "https://api.slack.com/authentication/oauth-v2",
		}
	case domain.IntegrationStripe:
		return providerMeta{
			description: "Revenue, customers, subscriptions and refunds",
			docsURL:     "https://docs.stripe.com/connect/oauth-reference",
		}
	case domain.IntegrationTrello:
		return providerMeta{
			description: "Closed cards and board adoption",
			docsURL:     "https://developer.atlassian.com/cloud/trello/guides/rest-api/authorization/",
		}
	case domain.IntegrationXero:
		return providerMeta{
			description: "Profit and loss, burn rate and runway",
			docsURL:     "https://developer.xero.com/documentation/guides/oauth2/auth-flow",
		}
	case domain.IntegrationZoho:
		return providerMeta{
			description: "Converted leads, closed deals and demos",
			docsURL:     "https://www.zoho.com/crm/developer/docs/api/v2/oauth-overview.html",
		}
	default:
		return providerMeta{description: t.DisplayName()}
	}
}
