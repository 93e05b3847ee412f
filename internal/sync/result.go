package sync

import "time"

// Reason identifies which trigger started a reconciliation pass.
type Reason string

const (
	ReasonManual    Reason = "manual"
	ReasonWebhook   Reason = "webhook"
	ReasonScheduled Reason = "scheduled"
	// ReasonInitial is the best-effort first pass right after authorization.
	ReasonInitial Reason = "initial"
)

// Result reports one reconciliation pass. It is returned and logged, never
// persisted.
type Result struct {
	Success       bool     `json:"success"`
	EventsAdded   int      `json:"events_added"`
	EventsUpdated int      `json:"events_updated"`
	EventsDeleted int      `json:"events_deleted"`
	Errors        []string `json:"errors"`
}

func failedResult(err error) Result {
	return Result{Success: false, Errors: []string{err.Error()}}
}

// WebhookRegistration routes inbound notifications back to a user. It must be
// renewed before Expiration or Google silently stops delivering.
type WebhookRegistration struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration time.Time `json:"expiration"`
}

// Status is the connection summary reported to the admin UI.
type Status struct {
	Connected     bool       `json:"connected"`
	GoogleEmail   string     `json:"google_email,omitempty"`
	CalendarID    string     `json:"calendar_id,omitempty"`
	SyncEnabled   bool       `json:"sync_enabled"`
	LastSync      *time.Time `json:"last_sync"`
	WebhookActive bool       `json:"webhook_active"`
}
