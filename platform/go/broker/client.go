package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the broker does not know the requested
// entity or subscription.
var ErrNotFound = errors.New("not found in context broker")

// tenantHeader scopes every broker call to one tenant's entity space.
const tenantHeader = "NGSILD-Tenant"

// Config carries the connection settings for the NGSI-LD context broker.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// Client talks to an NGSI-LD context broker (Orion-LD).
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient builds a broker client with bounded timeouts and transport
// retries.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/ld+json")

	return &Client{http: http, logger: logger}
}

// Entity fetches one entity from the broker.
func (c *Client) Entity(ctx context.Context, tenantID, entityID string) (map[string]any, error) {
	var entity map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(tenantHeader, tenantID).
		SetResult(&entity).
		Get("/ngsi-ld/v1/entities/" + entityID)
	if err != nil {
		return nil, fmt.Errorf("fetch entity %s: %w", entityID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch entity %s: http %d", entityID, resp.StatusCode())
	}
	return entity, nil
}

// EntitiesByType lists all entities of one type within the tenant's space.
func (c *Client) EntitiesByType(ctx context.Context, tenantID, entityType string) ([]map[string]any, error) {
	var entities []map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(tenantHeader, tenantID).
		SetQueryParams(map[string]string{"type": entityType, "limit": "1000"}).
		SetResult(&entities).
		Get("/ngsi-ld/v1/entities")
	if err != nil {
		return nil, fmt.Errorf("fetch %s entities: %w", entityType, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s entities: http %d", entityType, resp.StatusCode())
	}
	return entities, nil
}

// Subscription describes one NGSI-LD subscription registration.
type Subscription struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Entities     []SubscriptionEntity `json:"entities"`
	Notification NotificationParams   `json:"notification"`
}

// SubscriptionEntity selects entities by type.
type SubscriptionEntity struct {
	Type string `json:"type"`
}

// NotificationParams points the broker at our webhook.
type NotificationParams struct {
	Endpoint Endpoint `json:"endpoint"`
}

// Endpoint is the notification delivery target.
type Endpoint struct {
	URI    string `json:"uri"`
	Accept string `json:"accept"`
}

// Subscription fetches an existing subscription registration.
func (c *Client) Subscription(ctx context.Context, tenantID, subscriptionID string) (Subscription, error) {
	var sub Subscription
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(tenantHeader, tenantID).
		SetResult(&sub).
		Get("/ngsi-ld/v1/subscriptions/" + subscriptionID)
	if err != nil {
		return Subscription{}, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	if resp.StatusCode() == 404 {
		return Subscription{}, fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
	}
	if resp.IsError() {
		return Subscription{}, fmt.Errorf("fetch subscription %s: http %d", subscriptionID, resp.StatusCode())
	}
	return sub, nil
}

// CreateSubscription registers a subscription. An already-existing
// registration (409) is treated as success; idempotent re-registration is the
// caller's normal path.
func (c *Client) CreateSubscription(ctx context.Context, tenantID string, sub Subscription) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(tenantHeader, tenantID).
		SetHeader("Content-Type", "application/ld+json").
		SetBody(sub).
		Post("/ngsi-ld/v1/subscriptions")
	if err != nil {
		return fmt.Errorf("create subscription %s: %w", sub.ID, err)
	}
	if resp.StatusCode() == 201 || resp.StatusCode() == 409 {
		return nil
	}
	return fmt.Errorf("create subscription %s: http %d: %s", sub.ID, resp.StatusCode(), resp.String())
}

// DeleteSubscription removes a registration; a missing one is not an error.
func (c *Client) DeleteSubscription(ctx context.Context, tenantID, subscriptionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(tenantHeader, tenantID).
		Delete("/ngsi-ld/v1/subscriptions/" + subscriptionID)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", subscriptionID, err)
	}
	if resp.StatusCode() == 204 || resp.StatusCode() == 404 {
		return nil
	}
	return fmt.Errorf("delete subscription %s: http %d", subscriptionID, resp.StatusCode())
}

// Health probes the broker's version endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/version")
	if err != nil {
		return fmt.Errorf("broker health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker health: http %d", resp.StatusCode())
	}
	return nil
}
