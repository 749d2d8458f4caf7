// Package hubspot connects HubSpot portals and reads CRM objects.
package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://api.hubapi.com"
	windowDays     = 90
	pageSize       = 100
)

// Endpoint is HubSpot's OAuth 2.0 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://app.hubspot.com/oauth/authorize",
	TokenURL:  "https://api.hubapi.com/oauth/v1/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var scopes = []string{
	"oauth",
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.objects.companies.read",
	"crm.objects.deals.read",
}

// objectProperties lists the properties returned for each passthrough.
var objectProperties = map[string][]string{
	"contacts":  {"email", "firstname", "lastname", "company", "createdate"},
	"companies": {"name", "domain", "industry", "createdate"},
	"deals":     {"dealname", "amount", "dealstage", "closedate", "pipeline"},
	"tasks":     {"hs_task_subject", "hs_task_body", "hs_task_status", "hs_task_priority", "hs_timestamp"},
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector       = (*Connector)(nil)
	_ driven.ResourceLister  = (*Connector)(nil)
	_ driven.ResourceCreator = (*Connector)(nil)
)

// Connector is the HubSpot connector.
type Connector struct {
	*connectors.OAuth2Flow

	BaseURL string

	resources connectors.Resources
	now       func() time.Time
}

// New creates a HubSpot connector.
func New(opts connectors.Options) *Connector {
	c := &Connector{
		OAuth2Flow: connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationHubSpot, opts), Endpoint, scopes...),
		BaseURL:    defaultBaseURL,
		now:        time.Now,
	}
	c.resources = connectors.Resources{"email": c.listEmailEvents}
	for objectType := range objectProperties {
		c.resources[objectType] = c.objectLister(objectType)
	}
	return c
}

func (c *Connector) api(token string) *connectors.APIClient {
	return c.Transport().Bearer(c.BaseURL, token)
}

// Exchange trades the code and looks up the portal (hub) the token belongs to.
func (c *Connector) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	grant, err := c.OAuth2Flow.Exchange(ctx, app, req)
	if err != nil {
		return nil, err
	}

	var info struct {
		HubID  int64  `json:"hub_id"`
		Domain string `json:"hub_domain"`
	}
	if err := c.api(grant.Tokens.AccessToken).Get(ctx, "/oauth/v1/access-tokens/"+url.PathEscape(grant.Tokens.AccessToken), nil, &info); err != nil {
		return nil, fmt.Errorf("resolve hub id: %w", err)
	}
	if info.HubID != 0 {
		grant.Resolved = map[string]string{"hubId": strconv.FormatInt(info.HubID, 10)}
	}
	return grant, nil
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchRequest struct {
	FilterGroups []struct {
		Filters []filter `json:"filters"`
	} `json:"filterGroups,omitempty"`
	Properties []string `json:"properties,omitempty"`
	Limit      int      `json:"limit"`
	After      string   `json:"after,omitempty"`
}

type object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  string            `json:"createdAt,omitempty"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

type searchResponse struct {
	Total   int      `json:"total"`
	Results []object `json:"results"`
	Paging  *struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (c *Connector) search(ctx context.Context, api *connectors.APIClient, objectType string, req searchRequest) (*searchResponse, error) {
	var resp searchResponse
	if err := api.Post(ctx, "/crm/v3/objects/"+objectType+"/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Connector) total(ctx context.Context, api *connectors.APIClient, objectType string) (int, error) {
	resp, err := c.search(ctx, api, objectType, searchRequest{Limit: 1})
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// closedWonRevenue sums closed-won deal amounts closed since the cutoff.
func (c *Connector) closedWonRevenue(ctx context.Context, api *connectors.APIClient, since time.Time) (float64, error) {
	req := searchRequest{
		Properties: []string{"amount"},
		Limit:      pageSize,
	}
	req.FilterGroups = append(req.FilterGroups, struct {
		Filters []filter `json:"filters"`
	}{Filters: []filter{
		{PropertyName: "dealstage", Operator: "EQ", Value: "closedwon"},
		{PropertyName: "closedate", Operator: "GTE", Value: strconv.FormatInt(since.UnixMilli(), 10)},
	}})

	var revenue float64
	for {
		resp, err := c.search(ctx, api, "deals", req)
		if err != nil {
			return 0, err
		}
		for _, deal := range resp.Results {
			if amount, err := strconv.ParseFloat(strings.TrimSpace(deal.Properties["amount"]), 64); err == nil {
				revenue += amount
			}
		}
		if resp.Paging == nil || resp.Paging.Next.After == "" {
			return revenue, nil
		}
		req.After = resp.Paging.Next.After
	}
}

// FetchMetrics reads closed-won revenue over 90 days plus contact and
// company totals.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api := c.api(cred.Tokens.AccessToken)

	revenue, err := c.closedWonRevenue(ctx, api, connectors.Since(c.now(), windowDays))
	if err != nil {
		return nil, err
	}
	contacts, err := c.total(ctx, api, "contacts")
	if err != nil {
		return nil, err
	}
	companies, err := c.total(ctx, api, "companies")
	if err != nil {
		return nil, err
	}

	m := domain.NewMetrics()
	m.Revenue = domain.Float(revenue)
	m.UserGrowth = domain.Count(contacts)
	m.LeadConversions = domain.Count(companies)
	return m, nil
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return c.resources.Names()
}

// ListResource reads a named resource.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	return c.resources.List(ctx, cred, resource, params)
}

// objectLister lists CRM objects of one type.
func (c *Connector) objectLister(objectType string) connectors.ResourceFunc {
	props := objectProperties[objectType]
	return func(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
		query := url.Values{
			"limit":      {strconv.Itoa(connectors.Limit(params, 20, pageSize))},
			"properties": {strings.Join(props, ",")},
		}
		if after := params.Get("after"); after != "" {
			query.Set("after", after)
		}

		var resp searchResponse
		if err := c.api(cred.Tokens.AccessToken).Get(ctx, "/crm/v3/objects/"+objectType, query, &resp); err != nil {
			return nil, err
		}
		out := map[string]any{objectType: resp.Results}
		if resp.Paging != nil && resp.Paging.Next.After != "" {
			out["next"] = resp.Paging.Next.After
		}
		return connectors.Reshape(out)
	}
}

// listEmailEvents reads email tracking events (sends, opens, clicks).
func (c *Connector) listEmailEvents(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	query := url.Values{"limit": {strconv.Itoa(connectors.Limit(params, 20, pageSize))}}
	for _, key := range []string{"recipient", "eventType", "offset"} {
		if v := params.Get(key); v != "" {
			query.Set(key, v)
		}
	}

	var resp struct {
		Events  []json.RawMessage `json:"events"`
		HasMore bool              `json:"hasMore"`
		Offset  string            `json:"offset"`
	}
	if err := c.api(cred.Tokens.AccessToken).Get(ctx, "/email/public/v1/events", query, &resp); err != nil {
		return nil, err
	}
	out := map[string]any{"events": resp.Events}
	if resp.HasMore && resp.Offset != "" {
		out["next"] = resp.Offset
	}
	return connectors.Reshape(out)
}

// NewContact is the body accepted by the "contacts" create resource.
type NewContact struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
	Company   string `json:"company,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// NewTask is the body accepted by the "tasks" create resource. DueDate and
// ReminderTime are RFC 3339 instants.
type NewTask struct {
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	DueDate              string `json:"dueDate"`
	ReminderTime         string `json:"reminderTime,omitempty"`
	AssociatedObjectType string `json:"associatedObjectType,omitempty"`
	AssociatedObjectID   string `json:"associatedObjectId,omitempty"`
}

// NewEmail is the body accepted by the "email" create resource.
type NewEmail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// CreateResource creates a contact or a task, or sends a transactional email.
func (c *Connector) CreateResource(ctx context.Context, cred *driven.Credential, resource string, body json.RawMessage) (json.RawMessage, error) {
	switch resource {
	case "contacts":
		return c.createContact(ctx, cred, body)
	case "tasks":
		return c.createTask(ctx, cred, body)
	case "email":
		return c.sendEmail(ctx, cred, body)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
}

func (c *Connector) createContact(ctx context.Context, cred *driven.Credential, body json.RawMessage) (json.RawMessage, error) {
	var req NewContact
	if err := connectors.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if req.Email == "" {
		return nil, fmt.Errorf("%w: contact email is required", domain.ErrInvalidInput)
	}

	var created object
	payload := map[string]any{"properties": req}
	if err := c.api(cred.Tokens.AccessToken).Post(ctx, "/crm/v3/objects/contacts", payload, &created); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"contact": created})
}

type associationTarget struct {
	ID string `json:"id"`
}

type association struct {
	To    associationTarget `json:"to"`
	Types []associationType `json:"types"`
}

type associationType struct {
	Category string `json:"associationCategory"`
	TypeID   int    `json:"associationTypeId"`
}

// taskAssociationTypes maps an object type to HubSpot's task association id.
var taskAssociationTypes = map[string]int{
	"contacts":  204,
	"companies": 192,
	"deals":     216,
}

func (c *Connector) createTask(ctx context.Context, cred *driven.Credential, body json.RawMessage) (json.RawMessage, error) {
	var req NewTask
	if err := connectors.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if req.Title == "" || req.DueDate == "" {
		return nil, fmt.Errorf("%w: task title and due date are required", domain.ErrInvalidInput)
	}
	due, err := time.Parse(time.RFC3339, req.DueDate)
	if err != nil {
		return nil, fmt.Errorf("%w: due date: %v", domain.ErrInvalidInput, err)
	}

	props := map[string]string{
		"hs_task_subject":  req.Title,
		"hs_task_body":     req.Description,
		"hs_task_status":   "NOT_STARTED",
		"hs_task_priority": "MEDIUM",
		"hs_timestamp":     strconv.FormatInt(due.UnixMilli(), 10),
	}
	if req.ReminderTime != "" {
		reminder, err := time.Parse(time.RFC3339, req.ReminderTime)
		if err != nil {
			return nil, fmt.Errorf("%w: reminder time: %v", domain.ErrInvalidInput, err)
		}
		props["hs_task_reminders"] = strconv.FormatInt(reminder.UnixMilli(), 10)
	}

	payload := map[string]any{"properties": props}
	if req.AssociatedObjectID != "" {
		typeID, ok := taskAssociationTypes[req.AssociatedObjectType]
		if !ok {
			return nil, fmt.Errorf("%w: cannot associate a task with %q", domain.ErrInvalidInput, req.AssociatedObjectType)
		}
		payload["associations"] = []association{{
			To:    associationTarget{ID: req.AssociatedObjectID},
			Types: []associationType{{Category: "HUBSPOT_DEFINED", TypeID: typeID}},
		}}
	}

	var created object
	if err := c.api(cred.Tokens.AccessToken).Post(ctx, "/crm/v3/objects/tasks", payload, &created); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"task": created})
}

func (c *Connector) sendEmail(ctx context.Context, cred *driven.Credential, body json.RawMessage) (json.RawMessage, error) {
	var req NewEmail
	if err := connectors.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if req.From == "" || req.To == "" || req.Subject == "" || req.Message == "" {
		return nil, fmt.Errorf("%w: from, to, subject and message are required", domain.ErrInvalidInput)
	}

	var status json.RawMessage
	if err := c.api(cred.Tokens.AccessToken).Post(ctx, "/marketing/v3/transactional/single-email/send", req, &status); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"emailStatus": status})
}
