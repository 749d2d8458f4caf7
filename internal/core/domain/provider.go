package domain

import "strings"

// IntegrationType identifies a third-party provider
type IntegrationType string

const (
	IntegrationAsana           IntegrationType = "ASANA"
	IntegrationCalendly        IntegrationType = "CALENDLY"
	IntegrationGoogleAnalytics IntegrationType = "GOOGLE_ANALYTICS"
	IntegrationGoogleSheets    IntegrationType = "GOOGLE_SHEETS"
	IntegrationHubSpot         IntegrationType = "HUBSPOT"
	IntegrationMonday          IntegrationType = "MONDAY"
	IntegrationNotion          IntegrationType = "NOTION"
	IntegrationQuickBooks      IntegrationType = "QUICKBOOKS"
	IntegrationSalesforce      IntegrationType = "SALESFORCE"
	IntegrationSlack           IntegrationType = "SLACK"
	IntegrationStripe          IntegrationType = "STRIPE"
	IntegrationTrello          IntegrationType = "TRELLO"
	IntegrationXero            IntegrationType = "XERO"
	IntegrationZoho            IntegrationType = "ZOHO"
)

// Category groups integrations for the dashboard
type Category string

const (
	CategoryFinance    Category = "finance"
	CategoryCustomer   Category = "customer"
	CategoryOperations Category = "operations"
)

// AuthMethod identifies how a provider grants access
type AuthMethod string

const (
	AuthMethodOAuth2 AuthMethod = "oauth2"
	AuthMethodOAuth1 AuthMethod = "oauth1"
)

type integrationMeta struct {
	slug     string
	name     string
	category Category
	auth     AuthMethod
}

var integrationCatalog = map[IntegrationType]integrationMeta{
	IntegrationAsana:           {"asana", "Asana", CategoryOperations, AuthMethodOAuth2},
	IntegrationCalendly:        {"calendly", "Calendly", CategoryOperations, AuthMethodOAuth2},
	IntegrationGoogleAnalytics: {"google-analytics", "Google Analytics", CategoryCustomer, AuthMethodOAuth2},
	IntegrationGoogleSheets:    {"google-sheets", "Google Sheets", CategoryOperations, AuthMethodOAuth2},
	IntegrationHubSpot:         {"hubspot", "HubSpot", CategoryCustomer, AuthMethodOAuth2},
	IntegrationMonday:          {"monday", "Monday.com", CategoryOperations, AuthMethodOAuth2},
	IntegrationNotion:          {"notion", "Notion", CategoryOperations, AuthMethodOAuth2},
	IntegrationQuickBooks:      {"quickbooks", "QuickBooks", CategoryFinance, AuthMethodOAuth2},
	IntegrationSalesforce:      {"salesforce", "Salesforce", CategoryCustomer, AuthMethodOAuth2},
	IntegrationSlack:           {"slack", "Slack", CategoryOperations, AuthMethodOAuth2},
	IntegrationStripe:          {"stripe", "Stripe", CategoryFinance, AuthMethodOAuth2},
	IntegrationTrello:          {"trello", "Trello", CategoryOperations, AuthMethodOAuth1},
	IntegrationXero:            {"xero", "Xero", CategoryFinance, AuthMethodOAuth2},
	IntegrationZoho:            {"zoho", "Zoho", CategoryOperations, AuthMethodOAuth2},
}

// AllIntegrationTypes returns every supported provider in stable order
func AllIntegrationTypes() []IntegrationType {
	return []IntegrationType{
		IntegrationAsana,
		IntegrationCalendly,
		IntegrationGoogleAnalytics,
		IntegrationGoogleSheets,
		IntegrationHubSpot,
		IntegrationMonday,
		IntegrationNotion,
		IntegrationQuickBooks,
		IntegrationSalesforce,
		IntegrationSlack,
		IntegrationStripe,
		IntegrationTrello,
		IntegrationXero,
		IntegrationZoho,
	}
}

// ParseIntegrationType resolves an enum name ("GOOGLE_ANALYTICS") or a URL
// slug ("google-analytics"), case-insensitively.
func ParseIntegrationType(s string) (IntegrationType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrUnsupportedProvider
	}
	upper := IntegrationType(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	if _, ok := integrationCatalog[upper]; ok {
		return upper, nil
	}
	lower := strings.ToLower(s)
	for t, meta := range integrationCatalog {
		if meta.slug == lower {
			return t, nil
		}
	}
	// Accept "mondaydotcom" and similar legacy aliases.
	if lower == "mondaydotcom" || lower == "monday.com" {
		return IntegrationMonday, nil
	}
	return "", ErrUnsupportedProvider
}

// IsValid reports whether t is a known provider
func (t IntegrationType) IsValid() bool {
	_, ok := integrationCatalog[t]
	return ok
}

// Slug returns the URL path segment for the provider
func (t IntegrationType) Slug() string {
	if meta, ok := integrationCatalog[t]; ok {
		return meta.slug
	}
	return strings.ToLower(string(t))
}

// DisplayName returns the provider name shown to users
func (t IntegrationType) DisplayName() string {
	if meta, ok := integrationCatalog[t]; ok {
		return meta.name
	}
	return string(t)
}

// Category returns the dashboard category; unknown types fall back to operations
func (t IntegrationType) Category() Category {
	if meta, ok := integrationCatalog[t]; ok {
		return meta.category
	}
	return CategoryOperations
}

// AuthMethod returns how the provider grants access
func (t IntegrationType) AuthMethod() AuthMethod {
	if meta, ok := integrationCatalog[t]; ok {
		return meta.auth
	}
	return AuthMethodOAuth2
}

// EnvPrefix returns the environment variable prefix for the provider's app credentials
func (t IntegrationType) EnvPrefix() string {
	return string(t)
}

// ProviderApp holds the OAuth client registration for one provider
type ProviderApp struct {
	Type         IntegrationType `json:"type"`
	ClientID     string          `json:"client_id"`
	ClientSecret string          `json:"-"`
	RedirectURI  string          `json:"redirect_uri"`
}

// IsConfigured returns true when every credential is present
func (p *ProviderApp) IsConfigured() bool {
	return p != nil && p.ClientID != "" && p.ClientSecret != "" && p.RedirectURI != ""
}

// ProviderInfo describes a provider for listing
type ProviderInfo struct {
	Type       IntegrationType `json:"type"`
	Slug       string          `json:"slug"`
	Name       string          `json:"name"`
	Category   Category        `json:"category"`
	AuthMethod AuthMethod      `json:"auth_method"`
	Configured bool            `json:"configured"`
}
