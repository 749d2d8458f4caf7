// Package providers assembles the connector for every supported integration.
package providers

import (
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/asana"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/calendly"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/google"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/hubspot"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/monday"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/notion"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/quickbooks"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/salesforce"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/slack"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/stripe"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/trello"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/xero"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/zoho"
)

// Options configure the default registry.
type Options struct {
	// HTTP applies to every connector's outbound calls.
	HTTP connectors.Options

	// QuickBooksSandbox points QuickBooks at the sandbox accounting host.
	QuickBooksSandbox bool
}

const quickBooksSandboxURL = "https://sandbox-quickbooks.api.intuit.com"

// NewRegistry returns a registry with a connector for every integration
// type. Each connector gets its own rate limiter.
func NewRegistry(opts Options) *connectors.Registry {
	qb := quickbooks.New(opts.HTTP)
	if opts.QuickBooksSandbox {
		qb.BaseURL = quickBooksSandboxURL
	}

	return connectors.NewRegistry(
		asana.New(opts.HTTP),
		calendly.New(opts.HTTP),
		google.NewAnalytics(opts.HTTP),
		google.NewSheets(opts.HTTP),
		hubspot.New(opts.HTTP),
		monday.New(opts.HTTP),
		notion.New(opts.HTTP),
		qb,
		salesforce.New(opts.HTTP),
		slack.New(opts.HTTP),
		stripe.New(opts.HTTP),
		trello.New(opts.HTTP),
		xero.New(opts.HTTP),
		zoho.New(opts.HTTP),
	)
}
