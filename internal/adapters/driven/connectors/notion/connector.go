// Package notion connects Notion workspaces through the notionapi client.
package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	pageSize = 100
	maxPages = 10
)

// Endpoint is Notion's OAuth 2.0 endpoint. The token call uses HTTP Basic.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://api.notion.com/v1/oauth/authorize",
	TokenURL:  "https://api.notion.com/v1/oauth/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector       = (*Connector)(nil)
	_ driven.ResourceLister  = (*Connector)(nil)
	_ driven.ResourceCreator = (*Connector)(nil)
)

// Connector is the Notion connector.
type Connector struct {
	*connectors.OAuth2Flow

	resources connectors.Resources
	now       func() time.Time
}

// New creates a Notion connector.
func New(opts connectors.Options) *Connector {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationNotion, opts), Endpoint)
	flow.AuthParams = map[string]string{"owner": "user"}
	flow.ResolveExtras = func(token *oauth2.Token) map[string]string {
		return map[string]string{"workspaceId": connectors.ExtraString(token, "workspace_id")}
	}

	c := &Connector{OAuth2Flow: flow, now: time.Now}
	c.resources = connectors.Resources{
		"databases": c.listDatabases,
		"pages":     c.listPages,
		"tasks":     c.listTasks,
		"users":     c.listUsers,
	}
	return c
}

func (c *Connector) client(cred *driven.Credential) *notionapi.Client {
	return notionapi.NewClient(notionapi.Token(cred.Tokens.AccessToken),
		notionapi.WithHTTPClient(c.Transport().HTTPClient()))
}

// apiError converts a notionapi error into a ProviderError.
func apiError(err error) error {
	var nerr *notionapi.Error
	if errors.As(err, &nerr) {
		return &domain.ProviderError{
			Provider:   domain.IntegrationNotion,
			StatusCode: nerr.Status,
			Body:       fmt.Sprintf("%s: %s", nerr.Code, nerr.Message),
		}
	}
	return fmt.Errorf("notion request: %w", err)
}

// search pages through search results of one object kind, stopping after
// maxPages pages.
func search(ctx context.Context, client *notionapi.Client, kind string, limit int) ([]notionapi.Object, error) {
	var (
		out    []notionapi.Object
		cursor notionapi.Cursor
	)
	for range maxPages {
		resp, err := client.Search.Do(ctx, &notionapi.SearchRequest{
			Filter:      notionapi.SearchFilter{Property: "object", Value: kind},
			StartCursor: cursor,
			PageSize:    min(limit-len(out), pageSize),
		})
		if err != nil {
			return nil, apiError(err)
		}
		out = append(out, resp.Results...)
		if !resp.HasMore || len(out) >= limit {
			break
		}
		cursor = resp.NextCursor
	}
	return out, nil
}

// database returns the selected database id, or the first one shared with
// the integration.
func (c *Connector) database(ctx context.Context, client *notionapi.Client, cred *driven.Credential) (notionapi.DatabaseID, error) {
	if corr, ok := cred.Correlation.(*domain.NotionCorrelation); ok && corr.DatabaseID != "" {
		return notionapi.DatabaseID(corr.DatabaseID), nil
	}
	dbs, err := search(ctx, client, "database", 1)
	if err != nil {
		return "", err
	}
	for _, obj := range dbs {
		if db, ok := obj.(*notionapi.Database); ok {
			return notionapi.DatabaseID(db.ID), nil
		}
	}
	return "", nil
}

// sums adds the number properties named Revenue and Expenses across the
// database rows.
func sums(ctx context.Context, client *notionapi.Client, id notionapi.DatabaseID) (revenue, expenses *float64, err error) {
	var cursor notionapi.Cursor
	for range maxPages {
		resp, err := client.Database.Query(ctx, id, &notionapi.DatabaseQueryRequest{
			StartCursor: cursor,
			PageSize:    pageSize,
		})
		if err != nil {
			return nil, nil, apiError(err)
		}
		for _, page := range resp.Results {
			for name, prop := range page.Properties {
				num, ok := prop.(*notionapi.NumberProperty)
				if !ok {
					continue
				}
				switch strings.ToLower(strings.TrimSpace(name)) {
				case "revenue":
					revenue = add(revenue, num.Number)
				case "expenses":
					expenses = add(expenses, num.Number)
				}
			}
		}
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return revenue, expenses, nil
}

func add(total *float64, v float64) *float64 {
	if total == nil {
		return domain.Float(v)
	}
	return domain.Float(*total + v)
}

// FetchMetrics counts pages and sums the financial columns of the selected
// database.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	client := c.client(cred)

	pages, err := search(ctx, client, "page", maxPages*pageSize)
	if err != nil {
		return nil, err
	}

	m := domain.NewMetrics()
	m.UserGrowth = domain.Count(len(pages))

	id, err := c.database(ctx, client, cred)
	if err != nil {
		return nil, err
	}
	if id != "" {
		if m.Revenue, m.BurnRate, err = sums(ctx, client, id); err != nil {
			return nil, err
		}
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

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, t := range rt {
		b.WriteString(t.PlainText)
	}
	return b.String()
}

type summary struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (c *Connector) listDatabases(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	objs, err := search(ctx, c.client(cred), "database", connectors.Limit(params, 20, pageSize))
	if err != nil {
		return nil, err
	}
	out := make([]summary, 0, len(objs))
	for _, obj := range objs {
		if db, ok := obj.(*notionapi.Database); ok {
			out = append(out, summary{ID: db.ID.String(), Title: plainText(db.Title), URL: db.URL})
		}
	}
	return connectors.Reshape(map[string]any{"databases": out})
}

func (c *Connector) listPages(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	objs, err := search(ctx, c.client(cred), "page", connectors.Limit(params, 20, pageSize))
	if err != nil {
		return nil, err
	}
	out := make([]summary, 0, len(objs))
	for _, obj := range objs {
		if page, ok := obj.(*notionapi.Page); ok {
			out = append(out, summary{ID: page.ID.String(), URL: page.URL})
		}
	}
	return connectors.Reshape(map[string]any{"pages": out})
}

func (c *Connector) listUsers(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	resp, err := c.client(cred).User.List(ctx, &notionapi.Pagination{PageSize: connectors.Limit(params, 50, pageSize)})
	if err != nil {
		return nil, apiError(err)
	}
	type user struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	}
	out := make([]user, 0, len(resp.Results))
	for _, u := range resp.Results {
		out = append(out, user{ID: u.ID.String(), Type: string(u.Type), Name: u.Name})
	}
	return connectors.Reshape(map[string]any{"users": out})
}

type taskRow struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	URL    string `json:"url,omitempty"`
}

// listTasks reads the rows of a task database: the databaseId parameter or
// the selected database.
func (c *Connector) listTasks(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	client := c.client(cred)
	id := notionapi.DatabaseID(params.Get("databaseId"))
	if id == "" {
		var err error
		if id, err = c.database(ctx, client, cred); err != nil {
			return nil, err
		}
	}
	if id == "" {
		return nil, fmt.Errorf("%w: databaseId is required", domain.ErrInvalidInput)
	}

	resp, err := client.Database.Query(ctx, id, &notionapi.DatabaseQueryRequest{
		PageSize: connectors.Limit(params, 20, pageSize),
	})
	if err != nil {
		return nil, apiError(err)
	}
	out := make([]taskRow, 0, len(resp.Results))
	for _, page := range resp.Results {
		row := taskRow{ID: page.ID.String(), URL: page.URL}
		for _, prop := range page.Properties {
			switch p := prop.(type) {
			case *notionapi.TitleProperty:
				row.Title = plainText(p.Title)
			case *notionapi.SelectProperty:
				row.Status = p.Select.Name
			case *notionapi.StatusProperty:
				row.Status = p.Status.Name
			}
		}
		out = append(out, row)
	}
	return connectors.Reshape(map[string]any{"tasks": out})
}

// NewTask is the body accepted by the "tasks" create resource. DueDate is a
// calendar date (2006-01-02) and Assignee a Notion user id.
type NewTask struct {
	Title      string `json:"title"`
	Status     string `json:"status,omitempty"`
	DueDate    string `json:"dueDate,omitempty"`
	Assignee   string `json:"assignee,omitempty"`
	DatabaseID string `json:"databaseId,omitempty"`
}

// NewMeetingNotes is the body accepted by the "meeting-notes" create
// resource. Date defaults to today.
type NewMeetingNotes struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Date         string   `json:"date,omitempty"`
	Participants []string `json:"participants,omitempty"`
	ParentPageID string   `json:"parentPageId"`
}

const defaultTaskStatus = "Not Started"

// CreateResource adds a task row to a database or a meeting-notes page under
// a parent page.
func (c *Connector) CreateResource(ctx context.Context, cred *driven.Credential, resource string, body json.RawMessage) (json.RawMessage, error) {
	switch resource {
	case "tasks":
		return c.createTask(ctx, cred, body)
	case "meeting-notes":
		return c.createMeetingNotes(ctx, cred, body)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
}

func parseDate(field, value string) (*notionapi.DateObject, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, field, err)
	}
	d := notionapi.Date(t)
	return &notionapi.DateObject{Start: &d}, nil
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: content}}}
}

func paragraph(content string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
		Paragraph:  notionapi.Paragraph{RichText: richText(content)},
	}
}

func (c *Connector) createTask(ctx context.Context, cred *driven.Credential, body json.RawMessage) (json.RawMessage, error) {
	var req NewTask
	if err := connectors.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if req.Title == "" {
		return nil, fmt.Errorf("%w: task title is required", domain.ErrInvalidInput)
	}
	if req.Status == "" {
		req.Status = defaultTaskStatus
	}

	props := notionapi.Properties{
		"Name":   &notionapi.TitleProperty{Type: notionapi.PropertyTypeTitle, Title: richText(req.Title)},
		"Status": &notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: req.Status}},
	}
	if req.DueDate != "" {
		due, err := parseDate("dueDate", req.DueDate)
		if err != nil {
			return nil, err
		}
		props["Due Date"] = &notionapi.DateProperty{Type: notionapi.PropertyTypeDate, Date: due}
	}
	if req.Assignee != "" {
		props["Assignee"] = &notionapi.PeopleProperty{
			Type:   notionapi.PropertyTypePeople,
			People: []notionapi.User{{ID: notionapi.UserID(req.Assignee)}},
		}
	}

	client := c.client(cred)
	id := notionapi.DatabaseID(req.DatabaseID)
	if id == "" {
		var err error
		if id, err = c.database(ctx, client, cred); err != nil {
			return nil, err
		}
	}
	if id == "" {
		return nil, fmt.Errorf("%w: databaseId is required", domain.ErrInvalidInput)
	}

	page, err := client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: id},
		Properties: props,
	})
	if err != nil {
		return nil, apiError(err)
	}
	return connectors.Reshape(map[string]any{"task": summary{ID: page.ID.String(), Title: req.Title, URL: page.URL}})
}

// createMeetingNotes writes a child page whose body opens with the meeting
// date and participants, followed by one paragraph per block of content.
func (c *Connector) createMeetingNotes(ctx context.Context, cred *driven.Credential, body json.RawMessage) (json.RawMessage, error) {
	var req NewMeetingNotes
	if err := connectors.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if req.Title == "" || strings.TrimSpace(req.Content) == "" || req.ParentPageID == "" {
		return nil, fmt.Errorf("%w: title, content and parentPageId are required", domain.ErrInvalidInput)
	}
	if req.Date == "" {
		req.Date = c.now().UTC().Format(time.DateOnly)
	} else if _, err := parseDate("date", req.Date); err != nil {
		return nil, err
	}

	header := "Date: " + req.Date
	if len(req.Participants) > 0 {
		header += "\nParticipants: " + strings.Join(req.Participants, ", ")
	}
	blocks := []notionapi.Block{paragraph(header)}
	for _, part := range strings.Split(req.Content, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			blocks = append(blocks, paragraph(part))
		}
	}

	page, err := c.client(cred).Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{Type: notionapi.ParentTypePageID, PageID: notionapi.PageID(req.ParentPageID)},
		Properties: notionapi.Properties{
			"title": &notionapi.TitleProperty{Type: notionapi.PropertyTypeTitle, Title: richText(req.Title)},
		},
		Children: blocks,
	})
	if err != nil {
		return nil, apiError(err)
	}
	return connectors.Reshape(map[string]any{"meetingNotes": summary{ID: page.ID.String(), Title: req.Title, URL: page.URL}})
}
