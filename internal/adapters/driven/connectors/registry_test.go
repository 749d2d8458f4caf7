package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

type stubConnector struct {
	*OAuth2Flow
}

func (stubConnector) FetchMetrics(context.Context, *driven.Credential) (*domain.Metrics, error) {
	return domain.NewMetrics(), nil
}

func newStub(t domain.IntegrationType) stubConnector {
	return stubConnector{OAuth2Flow: NewOAuth2Flow(NewTransport(t, Options{}), oauth2.Endpoint{})}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(newStub(domain.IntegrationXero), newStub(domain.IntegrationAsana))

	c, err := r.Get(domain.IntegrationXero)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationXero, c.Type())

	_, err = r.Get(domain.IntegrationSlack)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)

	r.Register(newStub(domain.IntegrationSlack))
	c, err = r.Get(domain.IntegrationSlack)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrationSlack, c.Type())
}
