package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/platform/go/broker"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
	"github.com/nekazari/odoo-bridge/platform/go/tenant"
)

// Broker abstracts the context-broker subscription API.
type Broker interface {
	Subscription(ctx context.Context, tenantID, subscriptionID string) (broker.Subscription, error)
	CreateSubscription(ctx context.Context, tenantID string, sub broker.Subscription) error
	DeleteSubscription(ctx context.Context, tenantID, subscriptionID string) error
}

// StatusMarker records a degraded sync state when subscriptions cannot be
// established.
type StatusMarker interface {
	MarkDegraded(ctx context.Context, tenantID, cause string) error
}

// Config carries the subscription manager settings.
type Config struct {
	// WebhookBaseURL is the public base URL of this service, used as the
	// notification endpoint (e.g. https://bridge.nekazari.example).
	WebhookBaseURL string
	// MaxAttempts bounds retries per subscription registration.
	MaxAttempts int
	// BaseBackoff is the wait before the second attempt; it doubles per retry.
	BaseBackoff time.Duration
}

// Service keeps the per-tenant context-broker subscriptions registered and in
// the desired shape.
type Service struct {
	broker Broker
	status StatusMarker
	cfg    Config
	logger *zap.Logger
}

// New constructs a Service with required dependencies.
func New(b Broker, status StatusMarker, cfg Config, logger *zap.Logger) *Service {
	if b == nil {
		panic("broker client is required")
	}
	if status == nil {
		panic("status marker is required")
	}
	if cfg.WebhookBaseURL == "" {
		panic("webhook base URL is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{broker: b, status: status, cfg: cfg, logger: logger}
}

// desired is the subscription shape this service expects for one entity type.
func (s *Service) desired(tenantID, entityType string) broker.Subscription {
	return broker.Subscription{
		ID:       tenant.SubscriptionID(tenantID, entityType),
		Type:     "Subscription",
		Entities: []broker.SubscriptionEntity{{Type: entityType}},
		Notification: broker.NotificationParams{
			Endpoint: broker.Endpoint{
				URI:    strings.TrimSuffix(s.cfg.WebhookBaseURL, "/") + "/webhook/notifications",
				Accept: "application/json",
			},
		},
	}
}

// matches reports whether an existing registration still has the desired
// shape. Entity type and endpoint are the fingerprint; anything else the
// broker adds on read is ignored.
func matches(existing, desired broker.Subscription) bool {
	if len(existing.Entities) != 1 || existing.Entities[0].Type != desired.Entities[0].Type {
		return false
	}
	return existing.Notification.Endpoint.URI == desired.Notification.Endpoint.URI
}

// EnsureAll registers (or repairs) the subscriptions for every synchronized
// entity type. Failures are collected per type; when any remain after retries
// the tenant's sync state is marked degraded and an aggregate error returned.
func (s *Service) EnsureAll(ctx context.Context, tenantID string) error {
	var failures []string
	for _, entityType := range odoo.SyncedTypes() {
		if err := s.Ensure(ctx, tenantID, entityType); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entityType, err))
		}
	}
	if len(failures) == 0 {
		return nil
	}

	cause := "subscriptions not established: " + strings.Join(failures, "; ")
	if err := s.status.MarkDegraded(ctx, tenantID, cause); err != nil {
		s.logger.Error("could not mark sync degraded", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return errors.New(cause)
}

// Ensure registers the subscription for one entity type, retrying with
// exponential backoff. An existing registration with the desired shape is
// left alone; a drifted one is replaced.
func (s *Service) Ensure(ctx context.Context, tenantID, entityType string) error {
	desired := s.desired(tenantID, entityType)

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := s.cfg.BaseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		lastErr = s.ensureOnce(ctx, tenantID, desired)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("subscription registration failed",
			zap.String("tenant_id", tenantID),
			zap.String("entity_type", entityType),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

func (s *Service) ensureOnce(ctx context.Context, tenantID string, desired broker.Subscription) error {
	existing, err := s.broker.Subscription(ctx, tenantID, desired.ID)
	switch {
	case err == nil:
		if matches(existing, desired) {
			return nil
		}
		// Drifted registration: replace rather than patch, Orion-LD treats
		// subscription updates inconsistently across versions.
		if err := s.broker.DeleteSubscription(ctx, tenantID, desired.ID); err != nil {
			return err
		}
	case errors.Is(err, broker.ErrNotFound):
		// fall through to create
	default:
		return err
	}

	return s.broker.CreateSubscription(ctx, tenantID, desired)
}

// TeardownAll removes every registration for the tenant. Missing ones are
// fine; other failures are collected so the caller can log them.
func (s *Service) TeardownAll(ctx context.Context, tenantID string) error {
	var failures []string
	for _, entityType := range odoo.SyncedTypes() {
		id := tenant.SubscriptionID(tenantID, entityType)
		if err := s.broker.DeleteSubscription(ctx, tenantID, id); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entityType, err))
		}
	}
	if len(failures) > 0 {
		return errors.New("subscription teardown incomplete: " + strings.Join(failures, "; "))
	}
	return nil
}
