package store

import "time"

// SyncConfig is the per-user calendar sync configuration. One row exists per
// user, created when the user completes Google authorization.
type SyncConfig struct {
	UserID      string
	CalendarID  string
	GoogleEmail string

	AccessToken  string
	RefreshToken string
	TokenScope   string
	TokenType    string
	TokenExpiry  time.Time

	SyncEnabled bool
	LastSync    *time.Time

	WebhookChannelID  *string
	WebhookResourceID *string
	WebhookExpiration *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTokens reports whether the config carries a usable credential pair.
func (c *SyncConfig) HasTokens() bool {
	return c.AccessToken != "" || c.RefreshToken != ""
}

// WebhookActive reports whether a push channel is registered and unexpired.
func (c *SyncConfig) WebhookActive(now time.Time) bool {
	return c.WebhookChannelID != nil && c.WebhookResourceID != nil &&
		c.WebhookExpiration != nil && c.WebhookExpiration.After(now)
}

// SyncedEvent mirrors one Google Calendar event in the local store. The
// provider event ID is the reconciliation key, unique per user.
type SyncedEvent struct {
	ID              int64
	UserID          string
	ProviderEventID string
	Title           string
	Description     string
	Location        string
	StartTime       time.Time
	EndTime         time.Time
	IsPublic        bool
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSyncedAt    time.Time
}
