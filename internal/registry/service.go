package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/secrets"
	"github.com/revittco/toolgate/internal/store"
	"github.com/revittco/toolgate/internal/usage"
)

// Invalidator is notified when a record changes so cached reads stay
// coherent. Satisfied by cache.IntegrationSource.
type Invalidator interface {
	Invalidate(id string)
}

// Registration is the input to Register: the integration record plus an
// optional plaintext secret region. Secrets nil means "keep whatever the
// record already has"; an empty non-nil map clears the region.
type Registration struct {
	Integration store.Integration
	Secrets     map[string]string
}

// Service owns the integration lifecycle: register, activate, deactivate,
// remove. Every mutation validates, persists, and invalidates the read
// cache, so the engine sees the change on its next lookup.
type Service struct {
	store   store.IntegrationStore
	secrets *secrets.Manager
	limiter *ratelimit.Limiter
	usage   *usage.Accumulator
	cache   Invalidator // optional
	logger  *slog.Logger
}

func NewService(
	s store.IntegrationStore,
	sec *secrets.Manager,
	limiter *ratelimit.Limiter,
	acc *usage.Accumulator,
	cache Invalidator,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, secrets: sec, limiter: limiter, usage: acc, cache: cache, logger: logger}
}

// Register creates or fully replaces an integration. Replacement is keyed
// by ID and idempotent: usage counters survive, CreatedAt is preserved,
// and new rate limits govern the very next admission. Secret material is
// sealed before the record ever reaches the store.
//
// The stored record always comes out active. Activation state is owned by
// Activate/Deactivate, not by the payload: isActive on the input is
// ignored, so a JSON zero value can never silently deactivate a live
// integration on re-register.
func (s *Service) Register(ctx context.Context, reg Registration) (*store.Integration, error) {
	integ := reg.Integration
	if integ.Authentication.Type == "" {
		integ.Authentication.Type = store.AuthNone
	}
	if err := validate(&integ); err != nil {
		return nil, err
	}

	if reg.Secrets != nil {
		blob, err := s.secrets.Seal(reg.Secrets)
		if err != nil {
			return nil, fmt.Errorf("seal secrets for %s: %w", integ.ID, err)
		}
		integ.EncryptedSecrets = blob
	} else if prev, err := s.store.GetIntegration(ctx, integ.ID); err == nil {
		integ.EncryptedSecrets = prev.EncryptedSecrets
	}

	integ.IsActive = true
	integ.UpdatedAt = time.Now().UTC()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = integ.UpdatedAt
	}

	if err := s.store.PutIntegration(ctx, &integ); err != nil {
		return nil, fmt.Errorf("put integration %s: %w", integ.ID, err)
	}
	s.invalidate(integ.ID)
	s.logger.Info("integration registered",
		"integration", integ.ID, "type", integ.Type, "capabilities", len(integ.Capabilities))
	return integ.Clone(), nil
}

// Get returns one integration record.
func (s *Service) Get(ctx context.Context, id string) (*store.Integration, error) {
	return s.store.GetIntegration(ctx, id)
}

// List returns all integrations in registration order.
func (s *Service) List(ctx context.Context) ([]store.Integration, error) {
	return s.store.ListIntegrations(ctx)
}

// Deactivate marks an integration inactive. New executions are refused
// from the next lookup on; executions already in flight run to completion
// and settle normally. Deactivating an inactive record is a no-op.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

// Activate marks an integration active again.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetIntegrationActive(ctx, id, active); err != nil {
		return fmt.Errorf("set active=%v for %s: %w", active, id, err)
	}
	s.invalidate(id)
	s.logger.Info("integration state changed", "integration", id, "active", active)
	return nil
}

// Remove deletes an integration and all its limiter and usage state. A
// record with executions still in flight is not removed; the caller gets
// ErrConflict and should deactivate first, then retry once traffic drains.
func (s *Service) Remove(ctx context.Context, id string) error {
	if _, err := s.store.GetIntegration(ctx, id); err != nil {
		return err
	}
	if n := s.limiter.InFlight(id); n > 0 {
		return fmt.Errorf("integration %s has %d executions in flight: %w", id, n, store.ErrConflict)
	}
	if err := s.store.DeleteIntegration(ctx, id); err != nil {
		return fmt.Errorf("delete integration %s: %w", id, err)
	}
	s.limiter.Forget(id)
	s.usage.Forget(id)
	s.invalidate(id)
	s.logger.Info("integration removed", "integration", id)
	return nil
}

// ResetLimits clears the integration's rate-limit windows.
func (s *Service) ResetLimits(ctx context.Context, id string) error {
	if _, err := s.store.GetIntegration(ctx, id); err != nil {
		return err
	}
	s.limiter.Reset(id)
	return nil
}

// IsConflict reports whether err is the in-flight removal conflict.
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

func (s *Service) invalidate(id string) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}
