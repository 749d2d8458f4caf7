// Package asana connects Asana workspaces and derives delivery metrics from
// project tasks.
package asana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://app.asana.com/api/1.0"

	// maxProjects bounds the per-project task reads in one fetch.
	maxProjects = 10
	windowDays  = 30
)

// Endpoint is Asana's OAuth 2.0 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://app.asana.com/-/oauth_authorize",
	TokenURL:  "https://app.asana.com/-/oauth_token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector       = (*Connector)(nil)
	_ driven.ResourceLister  = (*Connector)(nil)
	_ driven.ResourceCreator = (*Connector)(nil)
)

// Connector is the Asana connector.
type Connector struct {
	*connectors.OAuth2Flow

	// BaseURL is the REST API root.
	BaseURL string

	resources connectors.Resources
	now       func() time.Time
}

// New creates an Asana connector.
func New(opts connectors.Options) *Connector {
	transport := connectors.NewTransport(domain.IntegrationAsana, opts)
	c := &Connector{
		OAuth2Flow: connectors.NewOAuth2Flow(transport, Endpoint, "default"),
		BaseURL:    defaultBaseURL,
		now:        time.Now,
	}
	c.resources = connectors.Resources{
		"projects":   c.listProjects,
		"tasks":      c.listTasks,
		"workspaces": c.listWorkspaces,
		"users":      c.listUsers,
	}
	return c
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type ref struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

type task struct {
	GID         string     `json:"gid"`
	Name        string     `json:"name"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   *time.Time `json:"created_at"`
}

func (c *Connector) api(cred *driven.Credential) *connectors.APIClient {
	return c.Transport().Bearer(c.BaseURL, cred.Tokens.AccessToken)
}

// workspace returns the connected workspace, falling back to the user's first.
func (c *Connector) workspace(ctx context.Context, cred *driven.Credential) (string, error) {
	if corr, ok := cred.Correlation.(*domain.AsanaCorrelation); ok && corr.WorkspaceID != "" {
		return corr.WorkspaceID, nil
	}
	var resp envelope[[]ref]
	if err := c.api(cred).Get(ctx, "/workspaces", nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("asana: no workspaces available")
	}
	return resp.Data[0].GID, nil
}

// FetchMetrics reads tasks across the workspace's projects.
//
// newFeatures counts tasks completed in the last 30 days, adoptionRate is
// the completed share of all tasks and timeToMarket the mean days from
// creation to completion.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api := c.api(cred)
	ws, err := c.workspace(ctx, cred)
	if err != nil {
		return nil, err
	}

	var projects envelope[[]ref]
	if err := api.Get(ctx, "/workspaces/"+ws+"/projects", url.Values{"limit": {"100"}}, &projects); err != nil {
		return nil, err
	}
	if len(projects.Data) > maxProjects {
		projects.Data = projects.Data[:maxProjects]
	}

	now := c.now()
	since := connectors.Since(now, windowDays)
	var total, completed, recent int
	var leadDays float64
	var leadCount int

	for _, p := range projects.Data {
		var tasks envelope[[]task]
		query := url.Values{
			"opt_fields": {"name,completed,completed_at,created_at"},
			"limit":      {"100"},
		}
		if err := api.Get(ctx, "/projects/"+p.GID+"/tasks", query, &tasks); err != nil {
			return nil, err
		}
		for _, t := range tasks.Data {
			total++
			if !t.Completed {
				continue
			}
			completed++
			if t.CompletedAt != nil && t.CompletedAt.After(since) {
				recent++
			}
			if t.CompletedAt != nil && t.CreatedAt != nil {
				leadDays += connectors.Days(*t.CreatedAt, *t.CompletedAt)
				leadCount++
			}
		}
	}

	m := domain.NewMetrics()
	m.NewFeatures = domain.Count(recent)
	m.AdoptionRate = domain.Percent(float64(completed), float64(total))
	if leadCount > 0 {
		m.TimeToMarket = domain.Float(leadDays / float64(leadCount))
	}
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

func (c *Connector) listWorkspaces(ctx context.Context, cred *driven.Credential, _ url.Values) (json.RawMessage, error) {
	var resp envelope[[]ref]
	if err := c.api(cred).Get(ctx, "/workspaces", nil, &resp); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"workspaces": resp.Data})
}

func (c *Connector) listProjects(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	ws := params.Get("workspaceId")
	if ws == "" {
		var err error
		if ws, err = c.workspace(ctx, cred); err != nil {
			return nil, err
		}
	}
	var resp envelope[[]ref]
	query := url.Values{"limit": {fmt.Sprint(connectors.Limit(params, 50, 100))}}
	if err := c.api(cred).Get(ctx, "/workspaces/"+ws+"/projects", query, &resp); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"projects": resp.Data})
}

func (c *Connector) listUsers(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	ws := params.Get("workspaceId")
	if ws == "" {
		var err error
		if ws, err = c.workspace(ctx, cred); err != nil {
			return nil, err
		}
	}
	var resp envelope[[]struct {
		GID   string `json:"gid"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}]
	query := url.Values{"opt_fields": {"name,email"}}
	if err := c.api(cred).Get(ctx, "/workspaces/"+ws+"/users", query, &resp); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"users": resp.Data})
}

// listTasks lists the tasks of a project, or the tasks assigned to the
// assignee parameter ("me" by default) in the workspace.
func (c *Connector) listTasks(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	query := url.Values{
		"opt_fields": {"name,completed,completed_at,created_at,due_on,assignee.name"},
		"limit":      {fmt.Sprint(connectors.Limit(params, 50, 100))},
	}
	if project := params.Get("projectId"); project != "" {
		query.Set("project", project)
	} else {
		ws, err := c.workspace(ctx, cred)
		if err != nil {
			return nil, err
		}
		assignee := params.Get("assignee")
		if assignee == "" {
			assignee = "me"
		}
		query.Set("workspace", ws)
		query.Set("assignee", assignee)
	}
	if since := params.Get("completedSince"); since != "" {
		query.Set("completed_since", since)
	}
	if offset := params.Get("offset"); offset != "" {
		query.Set("offset", offset)
	}

	var resp struct {
		Data     []json.RawMessage `json:"data"`
		NextPage *struct {
			Offset string `json:"offset"`
		} `json:"next_page"`
	}
	if err := c.api(cred).Get(ctx, "/tasks", query, &resp); err != nil {
		return nil, err
	}
	out := map[string]any{"tasks": resp.Data}
	if resp.NextPage != nil && resp.NextPage.Offset != "" {
		out["next"] = resp.NextPage.Offset
	}
	return connectors.Reshape(out)
}

// NewTask is the body accepted by the "tasks" create resource.
type NewTask struct {
	Name      string   `json:"name"`
	Notes     string   `json:"notes,omitempty"`
	DueOn     string   `json:"due_on,omitempty"`
	Assignee  string   `json:"assignee,omitempty"`
	Projects  []string `json:"projects,omitempty"`
	Workspace string   `json:"workspace,omitempty"`
}

// CreateResource creates a task in the connected workspace.
func (c *Connector) CreateResource(ctx context.Context, cred *driven.Credential, resource string, body json.RawMessage) (json.RawMessage, error) {
	if resource != "tasks" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}

	var req NewTask
	if err := connectors.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: task name is required", domain.ErrInvalidInput)
	}
	if req.Workspace == "" && len(req.Projects) == 0 {
		ws, err := c.workspace(ctx, cred)
		if err != nil {
			return nil, err
		}
		req.Workspace = ws
	}

	var resp envelope[task]
	if err := c.api(cred).Post(ctx, "/tasks", envelope[NewTask]{Data: req}, &resp); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"task": resp.Data})
}
