package syncjobs

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no job exists for the requested key.
var ErrNotFound = errors.New("sync job not found")

// Triggers record why a sync run started.
const (
	TriggerManual       = "manual"
	TriggerSubscription = "subscription-event"
	TriggerScheduled    = "scheduled"
)

// Results summarize a finished (or in-flight) run.
const (
	ResultPending = "pending"
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Job is the ephemeral record of one sync invocation. Jobs are retained for
// status reporting and garbage-collected after the retention window.
type Job struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId"`
	Trigger           string     `json:"trigger"`
	RequestedAt       time.Time  `json:"requestedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Result            string     `json:"result"`
	EntitiesProcessed int        `json:"entitiesProcessed"`
	Errors            []string   `json:"errors"`
}
