// Package google connects Google Analytics and Google Sheets through the
// generated Google API clients.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// newFlow builds the shared Google OAuth flow. Offline access with forced
// consent makes Google return a refresh token on every grant.
func newFlow(t domain.IntegrationType, opts connectors.Options, scopes ...string) *connectors.OAuth2Flow {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(t, opts), googleoauth.Endpoint, scopes...)
	flow.AuthParams = map[string]string{
		"access_type": "offline",
		"prompt":      "consent",
	}
	return flow
}

// clientOptions returns API client options that authenticate with the
// credential's access token over the provider's rate-limited transport.
func clientOptions(ctx context.Context, flow *connectors.OAuth2Flow, cred *driven.Credential, endpoint string) []option.ClientOption {
	transport := flow.Transport()
	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.Tokens.AccessToken,
		TokenType:   "Bearer",
	})
	client := oauth2.NewClient(transport.Context(ctx), source)
	client.Timeout = transport.HTTPClient().Timeout

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// apiError maps a googleapi.Error onto a ProviderError.
func apiError(t domain.IntegrationType, op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return fmt.Errorf("%s: %w", op, &domain.ProviderError{
			Provider:   t,
			StatusCode: gerr.Code,
			Body:       body,
		})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isNotFound reports whether err is a Google 404.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
