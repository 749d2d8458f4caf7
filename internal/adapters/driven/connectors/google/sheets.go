package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/sheets/v4"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	sheetsScope = "https://www.googleapis.com/auth/spreadsheets.readonly"
	driveScope  = "https://www.googleapis.com/auth/drive.metadata.readonly"

	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	metricsRange        = "A1:B100"
)

// labelAliases maps normalized row labels that are not metric names.
var labelAliases = map[string]string{
	"mrr":                   "revenue",
	"arr":                   "revenue",
	"burn":                  "burnRate",
	"monthlyburn":           "burnRate",
	"mau":                   "monthlyActiveUsers",
	"activeusers":           "monthlyActiveUsers",
	"nps":                   "netPromoterScore",
	"retention":             "retentionRate",
	"churn":                 "churnRate",
	"growth":                "userGrowth",
	"conversions":           "leadConversions",
	"raised":                "fundraising",
	"runwaymonths":          "runway",
	"referrals":             "referralRate",
	"timetomarketdays":      "timeToMarket",
	"featuresshipped":       "newFeatures",
	"demosbooked":           "demos",
	"commission":            "commissions",
	"salescommissions":      "commissions",
	"leadconversionrate":    "leadConversions",
	"customerretentionrate": "retentionRate",
	"customerchurnrate":     "churnRate",
}

// Ensure Sheets implements the interfaces.
var (
	_ driven.Connector      = (*Sheets)(nil)
	_ driven.ResourceLister = (*Sheets)(nil)
)

// Sheets is the Google Sheets connector. Metrics are read from a two-column
// range of labels and values.
type Sheets struct {
	*connectors.OAuth2Flow

	// DriveEndpoint and SheetsEndpoint override the API roots when set.
	DriveEndpoint  string
	SheetsEndpoint string
}

// NewSheets creates a Google Sheets connector.
func NewSheets(opts connectors.Options) *Sheets {
	return &Sheets{
		OAuth2Flow: newFlow(domain.IntegrationGoogleSheets, opts, sheetsScope, driveScope),
	}
}

type spreadsheet struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modifiedTime"`
}

func (s *Sheets) spreadsheets(ctx context.Context, cred *driven.Credential, limit int64) ([]spreadsheet, error) {
	svc, err := drive.NewService(ctx, clientOptions(ctx, s.OAuth2Flow, cred, s.DriveEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	resp, err := svc.Files.List().
		Q("mimeType='" + spreadsheetMimeType + "' and trashed=false").
		OrderBy("modifiedTime desc").
		PageSize(limit).
		Fields(googleapi.Field("files(id,name,modifiedTime)")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, apiError(s.Type(), "list spreadsheets", err)
	}

	out := make([]spreadsheet, 0, len(resp.Files))
	for _, f := range resp.Files {
		out = append(out, spreadsheet{ID: f.Id, Name: f.Name, ModifiedTime: f.ModifiedTime})
	}
	return out, nil
}

func (s *Sheets) readRange(ctx context.Context, cred *driven.Credential, id string) ([][]any, error) {
	svc, err := sheets.NewService(ctx, clientOptions(ctx, s.OAuth2Flow, cred, s.SheetsEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	resp, err := svc.Spreadsheets.Values.Get(id, metricsRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// FetchMetrics reads the selected spreadsheet, or the most recently modified
// one when none is selected or the selection is gone.
func (s *Sheets) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	var selected string
	if corr, ok := cred.Correlation.(*domain.GoogleSheetsCorrelation); ok {
		selected = corr.SpreadsheetID
	}

	if selected != "" {
		rows, err := s.readRange(ctx, cred, selected)
		if err == nil {
			return metricsFromRows(rows), nil
		}
		if !isNotFound(err) {
			return nil, apiError(s.Type(), "read spreadsheet", err)
		}
	}

	recent, err := s.spreadsheets(ctx, cred, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return domain.NewMetrics(), nil
	}
	rows, err := s.readRange(ctx, cred, recent[0].ID)
	if err != nil {
		return nil, apiError(s.Type(), "read spreadsheet", err)
	}
	return metricsFromRows(rows), nil
}

// metricsFromRows maps label/value rows onto metric fields. Unknown labels
// and unparseable values are skipped; the first match for a field wins.
func metricsFromRows(rows [][]any) *domain.Metrics {
	m := domain.NewMetrics()
	seen := make(map[string]bool)
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		label := normalizeLabel(fmt.Sprint(row[0]))
		if alias, ok := labelAliases[label]; ok {
			label = alias
		}
		value, ok := parseNumber(fmt.Sprint(row[1]))
		if !ok || seen[strings.ToLower(label)] {
			continue
		}
		if m.Set(label, domain.Float(value)) {
			seen[strings.ToLower(label)] = true
		}
	}
	return m
}

func normalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseNumber accepts values such as "$12,500", "4.5%" and "(300)".
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r), r == '.', r == '-':
			return r
		}
		return -1
	}, s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// Resources lists the read passthroughs.
func (s *Sheets) Resources() []string {
	return []string{"spreadsheets"}
}

// ListResource reads a named resource.
func (s *Sheets) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	if resource != "spreadsheets" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
	files, err := s.spreadsheets(ctx, cred, int64(connectors.Limit(params, 25, 100)))
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"spreadsheets": files})
}
