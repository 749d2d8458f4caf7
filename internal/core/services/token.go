package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

// Ensure tokenService implements TokenService
var _ driving.TokenService = (*tokenService)(nil)

// TokenServiceConfig holds configuration for the token service.
type TokenServiceConfig struct {
	Store      driven.IntegrationStore
	Connectors driven.ConnectorRegistry
	Apps       driven.ProviderAppStore

	// Lock serializes refreshes per (user, provider). Optional: without it
	// the compare-and-swap in the store still prevents lost updates.
	Lock driven.DistributedLock

	Logger *slog.Logger

	// RefreshSkew is how long before expiry a token is refreshed (default 5m).
	RefreshSkew time.Duration
	// LockTTL bounds how long a crashed holder blocks others (default 30s).
	LockTTL time.Duration
	// WaitTimeout is how long a caller waits for another instance's refresh (default 10s).
	WaitTimeout time.Duration
	// PollInterval is how often a waiting caller re-reads the record (default 200ms).
	PollInterval time.Duration

	Now func() time.Time
}

type tokenService struct {
	store        driven.IntegrationStore
	connectors   driven.ConnectorRegistry
	apps         driven.ProviderAppStore
	lock         driven.DistributedLock
	logger       *slog.Logger
	skew         time.Duration
	lockTTL      time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenServiceConfig) driving.TokenService {
	s := &tokenService{
		store:        cfg.Store,
		connectors:   cfg.Connectors,
		apps:         cfg.Apps,
		lock:         cfg.Lock,
		logger:       cfg.Logger,
		skew:         cfg.RefreshSkew,
		lockTTL:      cfg.LockTTL,
		waitTimeout:  cfg.WaitTimeout,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.skew <= 0 {
		s.skew = domain.DefaultRefreshSkew
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.waitTimeout <= 0 {
		s.waitTimeout = 10 * time.Second
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 200 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Credential loads the credential and refreshes the access token if it is
// expired or inside the refresh window.
func (s *tokenService) Credential(ctx context.Context, userID string, t domain.IntegrationType) (*driven.Credential, error) {
	integration, err := s.store.GetByUserAndType(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	app := s.apps.Get(t)

	if integration.NeedsRefresh(s.now(), s.skew) {
		integration, err = s.refresh(ctx, integration, app)
		if err != nil {
			return nil, err
		}
	}

	return &driven.Credential{
		UserID:      integration.UserID,
		App:         app,
		Tokens:      integration.Tokens,
		Correlation: integration.Correlation,
	}, nil
}

func (s *tokenService) refresh(ctx context.Context, integration *domain.Integration, app *domain.ProviderApp) (*domain.Integration, error) {
	if !integration.CanRefresh() {
		if integration.IsExpired(s.now()) {
			return nil, fmt.Errorf("%w: no refresh token stored", domain.ErrTokenRefresh)
		}
		// Inside the window but still valid; use it until it lapses.
		return integration, nil
	}
	if !app.IsConfigured() {
		return nil, domain.ErrProviderNotConfigured
	}

	connector, err := s.connectors.Get(integration.Type)
	if err != nil {
		return nil, err
	}

	if s.lock == nil {
		return s.doRefresh(ctx, integration, app, connector)
	}

	lockName := refreshLockName(integration.UserID, integration.Type)
	acquired, err := s.lock.Acquire(ctx, lockName, s.lockTTL)
	if err != nil {
		s.logger.Warn("refresh lock unavailable, relying on compare-and-swap",
			"integration_type", integration.Type,
			"error", err,
		)
		return s.doRefresh(ctx, integration, app, connector)
	}
	if !acquired {
		return s.waitForRefresh(ctx, integration)
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), lockName); err != nil {
			s.logger.Warn("failed to release refresh lock", "lock", lockName, "error", err)
		}
	}()
	stopRenewing := s.renewLease(ctx, lockName)
	defer stopRenewing()

	// Another holder may have refreshed between our read and the lock.
	current, err := s.store.Get(ctx, integration.ID)
	if err != nil {
		return nil, fmt.Errorf("reload integration: %w", err)
	}
	if !current.NeedsRefresh(s.now(), s.skew) {
		return current, nil
	}

	return s.doRefresh(ctx, current, app, connector)
}

func (s *tokenService) doRefresh(ctx context.Context, integration *domain.Integration, app *domain.ProviderApp, connector driven.Connector) (*domain.Integration, error) {
	logger := s.logger.With("integration_id", integration.ID, "integration_type", integration.Type)

	grant, err := connector.Refresh(ctx, app, integration.Tokens.RefreshToken)
	if err != nil {
		logger.Error("token refresh failed", "error", err)
		trail := domain.NewDatatrail(integration.Type.DisplayName()+" token refresh failed", map[string]any{
			"error": err.Error(),
		})
		if trailErr := s.store.AppendDatatrail(ctx, integration.ID, trail); trailErr != nil {
			logger.Warn("failed to record refresh failure", "error", trailErr)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTokenRefresh, err)
	}

	previousExpiry := integration.TokenExpiresAt
	integration.ApplyTokens(grant.Tokens, grant.ExpiresAt)

	swapped, err := s.store.UpdateTokens(ctx, integration.ID, integration.Tokens, integration.TokenExpiresAt, previousExpiry)
	if err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	if !swapped {
		// Someone else rotated the token first; theirs is the stored truth.
		logger.Info("refresh lost compare-and-swap, using stored token")
		return s.store.Get(ctx, integration.ID)
	}

	logger.Info("token refreshed")
	return integration, nil
}

// renewLease extends the refresh lease every third of its TTL so a slow
// provider cannot outlive it. The returned func stops renewal and waits for it.
func (s *tokenService) renewLease(ctx context.Context, name string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(s.lockTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.lock.Extend(ctx, name, s.lockTTL); err != nil && ctx.Err() == nil {
					s.logger.Warn("failed to extend refresh lock", "lock", name, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// waitForRefresh polls until another holder's refresh lands.
func (s *tokenService) waitForRefresh(ctx context.Context, integration *domain.Integration) (*domain.Integration, error) {
	deadline := time.NewTimer(s.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, domain.ErrRefreshInProgress
		case <-ticker.C:
			current, err := s.store.Get(ctx, integration.ID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, err
				}
				continue
			}
			if !current.NeedsRefresh(s.now(), s.skew) {
				return current, nil
			}
		}
	}
}

func refreshLockName(userID string, t domain.IntegrationType) string {
	return "token-refresh:" + userID + ":" + string(t)
}
