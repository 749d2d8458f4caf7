package domain

import (
	"errors"
	"testing"
)

func TestParseIntegrationType(t *testing.T) {
	tests := []struct {
		input    string
		expected IntegrationType
	}{
		{"ASANA", IntegrationAsana},
		{"asana", IntegrationAsana},
		{"google-analytics", IntegrationGoogleAnalytics},
		{"GOOGLE_ANALYTICS", IntegrationGoogleAnalytics},
		{"Google_Sheets", IntegrationGoogleSheets},
		{"hubspot", IntegrationHubSpot},
		{"monday", IntegrationMonday},
		{"mondaydotcom", IntegrationMonday},
		{"quickbooks", IntegrationQuickBooks},
		{" xero ", IntegrationXero},
		{"trello", IntegrationTrello},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIntegrationType(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseIntegrationType_Unknown(t *testing.T) {
	for _, input := range []string{"", "github", "google"} {
		if _, err := ParseIntegrationType(input); !errors.Is(err, ErrUnsupportedProvider) {
			t.Errorf("%q: expected ErrUnsupportedProvider, got %v", input, err)
		}
	}
}

func TestIntegrationType_SlugRoundTrip(t *testing.T) {
	for _, it := range AllIntegrationTypes() {
		got, err := ParseIntegrationType(it.Slug())
		if err != nil {
			t.Fatalf("%s: %v", it, err)
		}
		if got != it {
			t.Errorf("slug %q resolved to %s, want %s", it.Slug(), got, it)
		}
	}
}

func TestIntegrationType_Category(t *testing.T) {
	tests := []struct {
		integration IntegrationType
		expected    Category
	}{
		{IntegrationQuickBooks, CategoryFinance},
		{IntegrationXero, CategoryFinance},
		{IntegrationStripe, CategoryFinance},
		{IntegrationHubSpot, CategoryCustomer},
		{IntegrationSalesforce, CategoryCustomer},
		{IntegrationGoogleAnalytics, CategoryCustomer},
		{IntegrationAsana, CategoryOperations},
		{IntegrationSlack, CategoryOperations},
		{IntegrationType("UNKNOWN"), CategoryOperations},
	}

	for _, tt := range tests {
		t.Run(string(tt.integration), func(t *testing.T) {
			if got := tt.integration.Category(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestIntegrationType_AuthMethod(t *testing.T) {
	if IntegrationTrello.AuthMethod() != AuthMethodOAuth1 {
		t.Error("trello should use oauth1")
	}
	if IntegrationXero.AuthMethod() != AuthMethodOAuth2 {
		t.Error("xero should use oauth2")
	}
}

func TestAllIntegrationTypes(t *testing.T) {
	all := AllIntegrationTypes()
	if len(all) != 14 {
		t.Fatalf("expected 14 providers, got %d", len(all))
	}
	seen := make(map[IntegrationType]bool)
	for _, it := range all {
		if !it.IsValid() {
			t.Errorf("%s should be valid", it)
		}
		if seen[it] {
			t.Errorf("duplicate provider %s", it)
		}
		seen[it] = true
	}
}

func TestProviderApp_IsConfigured(t *testing.T) {
	var nilApp *ProviderApp
	if nilApp.IsConfigured() {
		t.Error("nil app should not be configured")
	}

	app := &ProviderApp{Type: IntegrationXero, ClientID: "id", ClientSecret: "secret"}
	if app.IsConfigured() {
		t.Error("app without redirect URI should not be configured")
	}

	app.RedirectURI = "https://example.com/callback"
	if !app.IsConfigured() {
		t.Error("complete app should be configured")
	}
}
