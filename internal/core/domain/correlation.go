package domain

import (
	"encoding/json"
	"fmt"
)

// Correlation holds the provider-side identifiers an integration needs to
// address the connected account (tenant, realm, workspace, ...). Each
// provider has its own variant carrying only the fields it uses.
type Correlation interface {
	Provider() IntegrationType
}

type AsanaCorrelation struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type CalendlyCorrelation struct {
	UserURI         string `json:"userUri,omitempty"`
	OrganizationURI string `json:"organizationUri,omitempty"`
}

type GoogleAnalyticsCorrelation struct {
	PropertyID string `json:"propertyId,omitempty"`
}

type GoogleSheetsCorrelation struct {
	SpreadsheetID string `json:"spreadsheetId,omitempty"`
}

type HubSpotCorrelation struct {
	HubID string `json:"hubId,omitempty"`
}

type MondayCorrelation struct {
	AccountID string `json:"accountId,omitempty"`
}

type NotionCorrelation struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
	DatabaseID  string `json:"databaseId,omitempty"`
	PageID      string `json:"pageId,omitempty"`
	BlockID     string `json:"blockId,omitempty"`
}

type QuickBooksCorrelation struct {
	RealmID string `json:"realmId,omitempty"`
}

type SalesforceCorrelation struct {
	InstanceURL string `json:"instanceUrl,omitempty"`
}

type SlackCorrelation struct {
	TeamID string `json:"teamId,omitempty"`
}

type StripeCorrelation struct {
	StripeUserID string `json:"stripeUserId,omitempty"`
}

type TrelloCorrelation struct {
	MemberID string `json:"memberId,omitempty"`
}

type XeroCorrelation struct {
	TenantID string `json:"tenantId,omitempty"`
}

type ZohoCorrelation struct {
	APIDomain string `json:"apiDomain,omitempty"`
}

func (*AsanaCorrelation) Provider() IntegrationType           { return IntegrationAsana }
func (*CalendlyCorrelation) Provider() IntegrationType        { return IntegrationCalendly }
func (*GoogleAnalyticsCorrelation) Provider() IntegrationType { return IntegrationGoogleAnalytics }
func (*GoogleSheetsCorrelation) Provider() IntegrationType    { return IntegrationGoogleSheets }
func (*HubSpotCorrelation) Provider() IntegrationType         { return IntegrationHubSpot }
func (*MondayCorrelation) Provider() IntegrationType          { return IntegrationMonday }
func (*NotionCorrelation) Provider() IntegrationType          { return IntegrationNotion }
func (*QuickBooksCorrelation) Provider() IntegrationType      { return IntegrationQuickBooks }
func (*SalesforceCorrelation) Provider() IntegrationType      { return IntegrationSalesforce }
func (*SlackCorrelation) Provider() IntegrationType           { return IntegrationSlack }
func (*StripeCorrelation) Provider() IntegrationType          { return IntegrationStripe }
func (*TrelloCorrelation) Provider() IntegrationType          { return IntegrationTrello }
func (*XeroCorrelation) Provider() IntegrationType            { return IntegrationXero }
func (*ZohoCorrelation) Provider() IntegrationType            { return IntegrationZoho }

// emptyCorrelation returns a zero variant for the provider.
func emptyCorrelation(t IntegrationType) (Correlation, error) {
	switch t {
	case IntegrationAsana:
		return &AsanaCorrelation{}, nil
	case IntegrationCalendly:
		return &CalendlyCorrelation{}, nil
	case IntegrationGoogleAnalytics:
		return &GoogleAnalyticsCorrelation{}, nil
	case IntegrationGoogleSheets:
		return &GoogleSheetsCorrelation{}, nil
	case IntegrationHubSpot:
		return &HubSpotCorrelation{}, nil
	case IntegrationMonday:
		return &MondayCorrelation{}, nil
	case IntegrationNotion:
		return &NotionCorrelation{}, nil
	case IntegrationQuickBooks:
		return &QuickBooksCorrelation{}, nil
	case IntegrationSalesforce:
		return &SalesforceCorrelation{}, nil
	case IntegrationSlack:
		return &SlackCorrelation{}, nil
	case IntegrationStripe:
		return &StripeCorrelation{}, nil
	case IntegrationTrello:
		return &TrelloCorrelation{}, nil
	case IntegrationXero:
		return &XeroCorrelation{}, nil
	case IntegrationZoho:
		return &ZohoCorrelation{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, t)
	}
}

// NewCorrelation builds the provider variant from loose key/value pairs,
// such as client hints carried through the OAuth state or values resolved
// during the code exchange. Keys that the variant does not declare are dropped.
func NewCorrelation(t IntegrationType, values map[string]string) (Correlation, error) {
	c, err := emptyCorrelation(t)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return c, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal correlation values: %w", err)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("unmarshal correlation values: %w", err)
	}
	return c, nil
}

// MarshalCorrelation serializes a variant for storage. A nil correlation
// serializes to an empty object.
func MarshalCorrelation(c Correlation) ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// UnmarshalCorrelation restores the variant for the provider.
func UnmarshalCorrelation(t IntegrationType, raw []byte) (Correlation, error) {
	c, err := emptyCorrelation(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("unmarshal %s correlation: %w", t, err)
	}
	return c, nil
}

// CorrelationValues flattens a variant back into key/value form.
func CorrelationValues(c Correlation) map[string]string {
	values := make(map[string]string)
	if c == nil {
		return values
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return values
	}
	_ = json.Unmarshal(raw, &values)
	return values
}
