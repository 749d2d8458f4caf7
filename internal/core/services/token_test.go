package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven/mocks"
)

type tokenFixture struct {
	store     *mocks.MockIntegrationStore
	connector *mocks.MockConnector
	lock      *mocks.MockDistributedLock
	svc       *tokenService
}

func newTokenFixture(t *testing.T, integrationType domain.IntegrationType, expiresIn time.Duration) (*tokenFixture, *domain.Integration) {
	t.Helper()

	store := mocks.NewMockIntegrationStore()
	connector := mocks.NewMockConnector(integrationType)
	lock := mocks.NewMockDistributedLock()

	expiry := time.Now().Add(expiresIn)
	integration := &domain.Integration{
		UserID:          "user-1",
		Type:            integrationType,
		Tokens:          domain.Tokens{AccessToken: "old-access", RefreshToken: "old-refresh"},
		TokenExpiresAt:  &expiry,
		ConnectedStatus: true,
	}
	store.Put(integration)

	svc := NewTokenService(TokenServiceConfig{
		Store:        store,
		Connectors:   mocks.NewMockConnectorRegistry(connector),
		Apps:         mocks.NewMockProviderAppStore(integrationType),
		Lock:         lock,
		WaitTimeout:  500 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}).(*tokenService)

	return &tokenFixture{store: store, connector: connector, lock: lock, svc: svc}, integration
}

func TestTokenService_Credential_ValidTokenNotRefreshed(t *testing.T) {
	f, _ := newTokenFixture(t, domain.IntegrationXero, time.Hour)

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationXero)
	require.NoError(t, err)

	assert.Equal(t, "old-access", cred.Tokens.AccessToken)
	assert.Equal(t, 0, f.connector.RefreshCalls)
	assert.Equal(t, 0, f.lock.AcquireCalls)
}

func TestTokenService_Credential_RefreshesInsideWindow(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationXero, 2*time.Minute)

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationXero)
	require.NoError(t, err)

	assert.Equal(t, "refreshed-access", cred.Tokens.AccessToken)
	assert.Equal(t, 1, f.connector.RefreshCalls)

	stored, err := f.store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", stored.Tokens.AccessToken)
	assert.Equal(t, "refreshed-refresh", stored.Tokens.RefreshToken)
	require.NotNil(t, stored.TokenExpiresAt)
	assert.True(t, stored.TokenExpiresAt.After(time.Now().Add(50*time.Minute)))

	assert.False(t, f.lock.IsHeld(refreshLockName("user-1", domain.IntegrationXero)))
	assert.Equal(t, 1, f.lock.ReleaseCalls)
}

func TestTokenService_Credential_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationQuickBooks, -time.Minute)
	f.connector.RefreshFn = func(refreshToken string) (*driven.TokenGrant, error) {
		assert.Equal(t, "old-refresh", refreshToken)
		expiry := time.Now().Add(time.Hour)
		return &driven.TokenGrant{
			Tokens:    domain.Tokens{AccessToken: "new-access"},
			ExpiresAt: &expiry,
		}, nil
	}

	_, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationQuickBooks)
	require.NoError(t, err)

	stored, err := f.store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.Tokens.AccessToken)
	assert.Equal(t, "old-refresh", stored.Tokens.RefreshToken)
}

func TestTokenService_Credential_RefreshFailureKeepsCredential(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationHubSpot, -time.Minute)
	upstream := &domain.ProviderError{Provider: domain.IntegrationHubSpot, StatusCode: 400, Body: `{"status":"BAD_REFRESH_TOKEN"}`}
	f.connector.RefreshFn = func(string) (*driven.TokenGrant, error) {
		return nil, upstream
	}

	_, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationHubSpot)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTokenRefresh)

	var providerErr *domain.ProviderError
	assert.True(t, errors.As(err, &providerErr))

	stored, err := f.store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, "old-access", stored.Tokens.AccessToken)
	assert.Equal(t, "old-refresh", stored.Tokens.RefreshToken)
	require.NotEmpty(t, stored.Datatrails)
	assert.Equal(t, "HubSpot token refresh failed", stored.Datatrails[len(stored.Datatrails)-1].Event)
}

func TestTokenService_Credential_NilExpiryNeverRefreshes(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationTrello, time.Hour)
	integration.TokenExpiresAt = nil
	integration.Tokens = domain.Tokens{AccessToken: "trello-token", TokenSecret: "trello-secret"}
	f.store.Put(integration)

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationTrello)
	require.NoError(t, err)
	assert.Equal(t, "trello-token", cred.Tokens.AccessToken)
	assert.Equal(t, "trello-secret", cred.Tokens.TokenSecret)
	assert.Equal(t, 0, f.connector.RefreshCalls)
}

func TestTokenService_Credential_ExpiredWithoutRefreshToken(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationStripe, -time.Minute)
	integration.Tokens.RefreshToken = ""
	f.store.Put(integration)

	_, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationStripe)
	assert.ErrorIs(t, err, domain.ErrTokenRefresh)
	assert.Equal(t, 0, f.connector.RefreshCalls)
}

func TestTokenService_Credential_NotConnected(t *testing.T) {
	f, _ := newTokenFixture(t, domain.IntegrationXero, time.Hour)

	_, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationSlack)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenService_Credential_ConcurrentCallersRefreshOnce(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationSalesforce, -time.Minute)

	release := make(chan struct{})
	f.connector.RefreshFn = func(string) (*driven.TokenGrant, error) {
		<-release
		expiry := time.Now().Add(time.Hour)
		return &driven.TokenGrant{
			Tokens:    domain.Tokens{AccessToken: "winner-access", RefreshToken: "winner-refresh"},
			ExpiresAt: &expiry,
		}, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationSalesforce)
			errs[i] = err
			if err == nil {
				tokens[i] = cred.Tokens.AccessToken
			}
		}(i)
	}

	// Let every caller reach the lock before the refresh completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "winner-access", tokens[i])
	}
	assert.Equal(t, 1, f.connector.RefreshCalls)

	stored, err := f.store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, "winner-access", stored.Tokens.AccessToken)
}

func TestTokenService_Credential_WaitTimesOut(t *testing.T) {
	f, _ := newTokenFixture(t, domain.IntegrationZoho, -time.Minute)
	f.lock.SetLockHeld(refreshLockName("user-1", domain.IntegrationZoho), time.Minute)

	_, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationZoho)
	assert.ErrorIs(t, err, domain.ErrRefreshInProgress)
	assert.Equal(t, 0, f.connector.RefreshCalls)
}

func TestTokenService_Credential_WaitSeesOtherRefresh(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationZoho, -time.Minute)
	f.lock.SetLockHeld(refreshLockName("user-1", domain.IntegrationZoho), time.Minute)

	go func() {
		time.Sleep(30 * time.Millisecond)
		expiry := time.Now().Add(time.Hour)
		_, _ = f.store.UpdateTokens(context.Background(), integration.ID,
			domain.Tokens{AccessToken: "other-instance", RefreshToken: "r"}, &expiry, integration.TokenExpiresAt)
	}()

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationZoho)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", cred.Tokens.AccessToken)
	assert.Equal(t, 0, f.connector.RefreshCalls)
}

func TestTokenService_Credential_LockErrorFallsBackToCAS(t *testing.T) {
	f, _ := newTokenFixture(t, domain.IntegrationAsana, -time.Minute)
	f.lock.AcquireFn = func(string, time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationAsana)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cred.Tokens.AccessToken)
	assert.Equal(t, 1, f.store.UpdateTokensCalls)
}

func TestTokenService_Credential_LostSwapUsesStoredToken(t *testing.T) {
	f, integration := newTokenFixture(t, domain.IntegrationSlack, -time.Minute)
	f.svc.lock = nil
	f.connector.RefreshFn = func(string) (*driven.TokenGrant, error) {
		// Another writer lands first.
		expiry := time.Now().Add(2 * time.Hour)
		_, _ = f.store.UpdateTokens(context.Background(), integration.ID,
			domain.Tokens{AccessToken: "first-writer", RefreshToken: "r"}, &expiry, integration.TokenExpiresAt)

		mine := time.Now().Add(time.Hour)
		return &driven.TokenGrant{Tokens: domain.Tokens{AccessToken: "second-writer"}, ExpiresAt: &mine}, nil
	}

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationSlack)
	require.NoError(t, err)
	assert.Equal(t, "first-writer", cred.Tokens.AccessToken)
}

func TestTokenService_Credential_ProviderNotConfigured(t *testing.T) {
	f, _ := newTokenFixture(t, domain.IntegrationMonday, -time.Minute)
	f.svc.apps = mocks.NewMockProviderAppStore()

	_, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationMonday)
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}

func TestTokenService_Credential_SlowRefreshKeepsLease(t *testing.T) {
	f, _ := newTokenFixture(t, domain.IntegrationXero, -time.Minute)
	f.svc.lockTTL = 30 * time.Millisecond
	lockName := refreshLockName("user-1", domain.IntegrationXero)

	var heldMidway bool
	f.connector.RefreshFn = func(string) (*driven.TokenGrant, error) {
		// Outlast the lease TTL several times over.
		time.Sleep(100 * time.Millisecond)
		heldMidway = f.lock.IsHeld(lockName)
		expiry := time.Now().Add(time.Hour)
		return &driven.TokenGrant{Tokens: domain.Tokens{AccessToken: "slow-access"}, ExpiresAt: &expiry}, nil
	}

	cred, err := f.svc.Credential(context.Background(), "user-1", domain.IntegrationXero)
	require.NoError(t, err)
	assert.Equal(t, "slow-access", cred.Tokens.AccessToken)
	assert.True(t, heldMidway, "lease expired during the refresh")
	assert.GreaterOrEqual(t, f.lock.ExtendCalls(), 2)
	assert.False(t, f.lock.IsHeld(lockName))
}

func TestRefreshLockName(t *testing.T) {
	assert.Equal(t, "token-refresh:u1:GOOGLE_SHEETS", refreshLockName("u1", domain.IntegrationGoogleSheets))
}
