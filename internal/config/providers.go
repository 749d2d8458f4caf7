package config

import (
	"strings"
	"sync"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// legacyPrefixes are older environment prefixes still accepted per provider.
var legacyPrefixes = map[domain.IntegrationType][]string{
	domain.IntegrationGoogleAnalytics: {"GOOGLEANALYTICS"},
	domain.IntegrationGoogleSheets:    {"GOOGLESHEETS"},
	domain.IntegrationMonday:          {"MONDAYDOTCOM"},
	domain.IntegrationQuickBooks:      {"INTUIT"},
}

// ProviderApps resolves OAuth client registrations from the environment.
// A provider is configured when <PREFIX>_CLIENT_ID, <PREFIX>_CLIENT_SECRET
// and <PREFIX>_REDIRECT_URI are all set.
type ProviderApps struct {
	mu   sync.RWMutex
	apps map[domain.IntegrationType]*domain.ProviderApp
}

// ProviderAppsFromEnv reads every known provider's registration.
func ProviderAppsFromEnv(getenv func(string) string) *ProviderApps {
	p := &ProviderApps{apps: make(map[domain.IntegrationType]*domain.ProviderApp)}
	for _, t := range domain.AllIntegrationTypes() {
		p.apps[t] = readApp(getenv, t)
	}
	return p
}

func readApp(getenv func(string) string, t domain.IntegrationType) *domain.ProviderApp {
	prefixes := append([]string{t.EnvPrefix()}, legacyPrefixes[t]...)
	app := &domain.ProviderApp{Type: t}
	for _, prefix := range prefixes {
		if app.ClientID == "" {
			app.ClientID = lookup(getenv, prefix, "CLIENT_ID")
		}
		if app.ClientSecret == "" {
			app.ClientSecret = lookup(getenv, prefix, "CLIENT_SECRET")
		}
		if app.RedirectURI == "" {
			app.RedirectURI = lookup(getenv, prefix, "REDIRECT_URI")
		}
	}
	return app
}

// lookup tries <PREFIX>_<NAME> then the older <PREFIX>_INTEGRATION_<NAME>
// and <PREFIX>_CLIENT_INTEGRATION_ID spellings.
func lookup(getenv func(string) string, prefix, name string) string {
	candidates := []string{
		prefix + "_" + name,
		prefix + "_INTEGRATION_" + name,
	}
	if name == "CLIENT_ID" {
		candidates = append(candidates, prefix+"_CLIENT_INTEGRATION_ID")
	}
	if name == "CLIENT_SECRET" {
		candidates = append(candidates, prefix+"_CLIENT_INTEGRATION_SECRET")
	}
	for _, key := range candidates {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// Get returns the registration for t. Unknown or unconfigured providers
// return an app whose IsConfigured is false.
func (p *ProviderApps) Get(t domain.IntegrationType) *domain.ProviderApp {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if app, ok := p.apps[t]; ok {
		cp := *app
		return &cp
	}
	return &domain.ProviderApp{Type: t}
}

// Set replaces a registration.
func (p *ProviderApps) Set(app domain.ProviderApp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apps[app.Type] = &app
}

// Configured returns the providers with complete registrations.
func (p *ProviderApps) Configured() []domain.IntegrationType {
	var out []domain.IntegrationType
	for _, t := range domain.AllIntegrationTypes() {
		if p.Get(t).IsConfigured() {
			out = append(out, t)
		}
	}
	return out
}
