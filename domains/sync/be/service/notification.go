package service

import (
	"encoding/json"
	"fmt"
	"time"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed notification.schema.json
var notificationSchemaJSON string

var notificationSchema = jsonschema.MustCompileString(
	"notification.schema.json", notificationSchemaJSON)

// Notification is one NGSI-LD notification batch as delivered to the webhook.
type Notification struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	SubscriptionID string           `json:"subscriptionId"`
	NotifiedAt     time.Time        `json:"notifiedAt"`
	Data           []map[string]any `json:"data"`
}

// ParseNotification validates a raw webhook body against the notification
// schema and decodes it. Malformed payloads are rejected before any entity
// is touched.
func ParseNotification(body []byte) (Notification, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if err := notificationSchema.Validate(doc); err != nil {
		return Notification{}, fmt.Errorf("invalid notification: %w", err)
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}
