// Package google talks to the Google Calendar API on behalf of a connected
// account: event listing for reconciliation and push-notification channels.
package google

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Event status values as reported by the Calendar API.
const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
)

// Event is the slice of a remote calendar event the sync engine cares about.
type Event struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Status      string
}

// Cancelled reports whether the remote event was deleted or cancelled.
func (e Event) Cancelled() bool { return e.Status == StatusCancelled }

// WatchChannel identifies a push-notification subscription.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// Provider is the outbound port to the calendar service. The concrete client
// is swapped for a fake in tests.
type Provider interface {
	// ListEvents fetches all events of the calendar within [from, to],
	// including cancelled ones.
	ListEvents(ctx context.Context, ts oauth2.TokenSource, calendarID string, from, to time.Time) ([]Event, error)

	// Watch opens a push-notification channel delivering to address. The
	// token is echoed back by Google on every notification.
	Watch(ctx context.Context, ts oauth2.TokenSource, calendarID, channelID, address, token string) (*WatchChannel, error)

	// StopWatch tears down a previously opened channel.
	StopWatch(ctx context.Context, ts oauth2.TokenSource, channelID, resourceID string) error
}
