package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const analyticsScope = "https://www.googleapis.com/auth/analytics.readonly"

const (
	rangeCurrent  = "current"
	rangePrevious = "previous"
)

// Ensure Analytics implements the interfaces.
var (
	_ driven.Connector      = (*Analytics)(nil)
	_ driven.ResourceLister = (*Analytics)(nil)
)

// Analytics is the Google Analytics 4 connector.
type Analytics struct {
	*connectors.OAuth2Flow

	// AdminEndpoint and DataEndpoint override the API roots when set.
	AdminEndpoint string
	DataEndpoint  string
}

// NewAnalytics creates a Google Analytics connector.
func NewAnalytics(opts connectors.Options) *Analytics {
	return &Analytics{
		OAuth2Flow: newFlow(domain.IntegrationGoogleAnalytics, opts, analyticsScope),
	}
}

type propertySummary struct {
	Property    string `json:"propertyId"`
	DisplayName string `json:"displayName"`
	Account     string `json:"account"`
}

func (a *Analytics) properties(ctx context.Context, cred *driven.Credential) ([]propertySummary, error) {
	svc, err := analyticsadmin.NewService(ctx, clientOptions(ctx, a.OAuth2Flow, cred, a.AdminEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("create analytics admin client: %w", err)
	}
	resp, err := svc.AccountSummaries.List().PageSize(50).Context(ctx).Do()
	if err != nil {
		return nil, apiError(a.Type(), "list account summaries", err)
	}

	var out []propertySummary
	for _, account := range resp.AccountSummaries {
		for _, p := range account.PropertySummaries {
			out = append(out, propertySummary{
				Property:    strings.TrimPrefix(p.Property, "properties/"),
				DisplayName: p.DisplayName,
				Account:     account.DisplayName,
			})
		}
	}
	return out, nil
}

// propertyID returns the connected property, falling back to the first one
// the account can read.
func (a *Analytics) propertyID(ctx context.Context, cred *driven.Credential) (string, error) {
	if corr, ok := cred.Correlation.(*domain.GoogleAnalyticsCorrelation); ok && corr.PropertyID != "" {
		return corr.PropertyID, nil
	}
	props, err := a.properties(ctx, cred)
	if err != nil {
		return "", err
	}
	if len(props) == 0 {
		return "", fmt.Errorf("google analytics: no properties available")
	}
	return props[0].Property, nil
}

// FetchMetrics compares active users over the last 30 days with the 30
// days before.
func (a *Analytics) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	property, err := a.propertyID(ctx, cred)
	if err != nil {
		return nil, err
	}

	svc, err := analyticsdata.NewService(ctx, clientOptions(ctx, a.OAuth2Flow, cred, a.DataEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("create analytics data client: %w", err)
	}

	report, err := svc.Properties.RunReport("properties/"+property, &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{
			{StartDate: "30daysAgo", EndDate: "today", Name: rangeCurrent},
			{StartDate: "60daysAgo", EndDate: "31daysAgo", Name: rangePrevious},
		},
		Dimensions: []*analyticsdata.Dimension{{Name: "newVsReturning"}},
		Metrics:    []*analyticsdata.Metric{{Name: "activeUsers"}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, apiError(a.Type(), "run report", err)
	}

	return metricsFromReport(report), nil
}

// metricsFromReport reads rows of (newVsReturning, dateRange) -> activeUsers.
func metricsFromReport(report *analyticsdata.RunReportResponse) *domain.Metrics {
	var current, previous, returning float64
	for _, row := range report.Rows {
		if len(row.DimensionValues) < 2 || len(row.MetricValues) < 1 {
			continue
		}
		users, err := strconv.ParseFloat(row.MetricValues[0].Value, 64)
		if err != nil {
			continue
		}
		segment := row.DimensionValues[0].Value
		switch row.DimensionValues[1].Value {
		case rangeCurrent:
			current += users
			if segment == "returning" {
				returning += users
			}
		case rangePrevious:
			previous += users
		}
	}

	m := domain.NewMetrics()
	m.MonthlyActiveUsers = domain.Float(current)
	m.UserGrowth = domain.Percent(current-previous, previous)
	if retention := domain.Percent(returning, current); retention != nil {
		m.RetentionRate = retention
		m.ChurnRate = domain.Float(100 - *retention)
	}
	return m
}

// Resources lists the read passthroughs.
func (a *Analytics) Resources() []string {
	return []string{"properties"}
}

// ListResource reads a named resource.
func (a *Analytics) ListResource(ctx context.Context, cred *driven.Credential, resource string, _ url.Values) (json.RawMessage, error) {
	if resource != "properties" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
	props, err := a.properties(ctx, cred)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = []propertySummary{}
	}
	return connectors.Reshape(map[string]any{"properties": props})
}
