package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a random UUID for records, tasks and lock holders.
func GenerateID() string {
	return uuid.NewString()
}

// DefaultRefreshSkew is how long before expiry a token is treated as stale.
const DefaultRefreshSkew = 5 * time.Minute

// FetchStatus tracks the most recent metrics fetch for an integration
type FetchStatus string

const (
	FetchStatusNone     FetchStatus = ""
	FetchStatusPending  FetchStatus = "pending"
	FetchStatusComplete FetchStatus = "complete"
	FetchStatusFailed   FetchStatus = "failed"
)

// Tokens holds decrypted credentials. They are encrypted by the store before
// being written and only live in memory as plaintext.
type Tokens struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	// TokenSecret is the OAuth 1.0a token secret (Trello).
	TokenSecret string `json:"-"`
}

// Datatrail is one entry in an integration's append-only event log
type Datatrail struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewDatatrail creates an entry stamped now
func NewDatatrail(event string, details map[string]any) Datatrail {
	return Datatrail{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}

// Integration is one user's connection to one provider
type Integration struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Type   IntegrationType `json:"integrationType"`

	Tokens         Tokens     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`

	ConnectedStatus bool        `json:"connectedStatus"`
	Correlation     Correlation `json:"correlation,omitempty"`

	// IntegrationData is the last metrics snapshot, replaced on every fetch
	IntegrationData json.RawMessage `json:"integrationData,omitempty"`
	Datatrails      []Datatrail     `json:"datatrails"`

	FetchStatus    FetchStatus `json:"fetchStatus,omitempty"`
	LastFetchError string      `json:"lastFetchError,omitempty"`
	LastFetchedAt  *time.Time  `json:"lastFetchedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NeedsRefresh returns true if the access token expires within skew of now.
// A nil expiry never needs refresh.
func (i *Integration) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if i.TokenExpiresAt == nil {
		return false
	}
	return i.TokenExpiresAt.Sub(now) < skew
}

// IsExpired returns true if the access token has already expired.
func (i *Integration) IsExpired(now time.Time) bool {
	if i.TokenExpiresAt == nil {
		return false
	}
	return now.After(*i.TokenExpiresAt)
}

// CanRefresh returns true when a refresh token is on hand.
func (i *Integration) CanRefresh() bool {
	return i.Tokens.RefreshToken != ""
}

// AppendDatatrail adds an entry to the end of the log.
func (i *Integration) AppendDatatrail(d Datatrail) {
	i.Datatrails = append(i.Datatrails, d)
}

// ApplyTokens replaces the credentials, keeping the old refresh token when
// the provider did not rotate it.
func (i *Integration) ApplyTokens(t Tokens, expiresAt *time.Time) {
	if t.RefreshToken == "" {
		t.RefreshToken = i.Tokens.RefreshToken
	}
	i.Tokens = t
	i.TokenExpiresAt = expiresAt
}

// ConnectionStatus is the projection served by fetch-connection-status
type ConnectionStatus struct {
	ConnectedStatus bool        `json:"connectedStatus"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	FetchStatus     FetchStatus `json:"fetchStatus,omitempty"`
	LastFetchedAt   *time.Time  `json:"lastFetchedAt,omitempty"`
	LastFetchError  string      `json:"lastFetchError,omitempty"`
}

// ToStatus projects the connection status.
func (i *Integration) ToStatus() *ConnectionStatus {
	return &ConnectionStatus{
		ConnectedStatus: i.ConnectedStatus,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
		FetchStatus:     i.FetchStatus,
		LastFetchedAt:   i.LastFetchedAt,
		LastFetchError:  i.LastFetchError,
	}
}

// IntegrationSummary is a safe view without secrets.
type IntegrationSummary struct {
	ID              string            `json:"id"`
	Type            IntegrationType   `json:"integrationType"`
	ConnectedStatus bool              `json:"connectedStatus"`
	Correlation     map[string]string `json:"correlation,omitempty"`
	TokenExpiresAt  *time.Time        `json:"tokenExpiresAt,omitempty"`
	FetchStatus     FetchStatus       `json:"fetchStatus,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ToSummary converts an Integration to an IntegrationSummary.
func (i *Integration) ToSummary() *IntegrationSummary {
	return &IntegrationSummary{
		ID:              i.ID,
		Type:            i.Type,
		ConnectedStatus: i.ConnectedStatus,
		Correlation:     CorrelationValues(i.Correlation),
		TokenExpiresAt:  i.TokenExpiresAt,
		FetchStatus:     i.FetchStatus,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

// ConnectedIntegration is an entry in the connected-integrations list
type ConnectedIntegration struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
}

// TypedDatatrail is a datatrail entry tagged with its integration, used by
// the cross-integration feed.
type TypedDatatrail struct {
	IntegrationType IntegrationType `json:"integrationType"`
	Datatrail
}
