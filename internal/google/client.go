package google

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	listPageSize   = 250
	requestTimeout = 30 * time.Second
)

// Client implements Provider against the real Calendar API.
type Client struct{}

func NewClient() *Client { return &Client{} }

func (c *Client) service(ctx context.Context, ts oauth2.TokenSource) (*calendar.Service, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("init calendar service: %w", err)
	}
	return svc, nil
}

func (c *Client) ListEvents(ctx context.Context, ts oauth2.TokenSource, calendarID string, from, to time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	svc, err := c.service(ctx, ts)
	if err != nil {
		return nil, err
	}

	var events []Event
	call := svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(true).
		MaxResults(listPageSize)

	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Id == "" {
				continue
			}
			events = append(events, fromAPIEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", calendarID, err)
	}
	return events, nil
}

func (c *Client) Watch(ctx context.Context, ts oauth2.TokenSource, calendarID, channelID, address, token string) (*WatchChannel, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	svc, err := c.service(ctx, ts)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Events.Watch(calendarID, &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
		Token:   token,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("watch calendar %s: %w", calendarID, err)
	}

	return &WatchChannel{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}

func (c *Client) StopWatch(ctx context.Context, ts oauth2.TokenSource, channelID, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	svc, err := c.service(ctx, ts)
	if err != nil {
		return err
	}

	if err := svc.Channels.Stop(&calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("stop channel %s: %w", channelID, err)
	}
	return nil
}

func fromAPIEvent(item *calendar.Event) Event {
	ev := Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
	}
	// Cancelled events arrive without times; keep them for delete handling.
	if item.Start != nil {
		ev.Start = parseEventTime(item.Start)
	}
	if item.End != nil {
		ev.End = parseEventTime(item.End)
	}
	return ev
}

// parseEventTime handles both timed (dateTime) and all-day (date) events.
func parseEventTime(t *calendar.EventDateTime) time.Time {
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed
		}
	}
	if t.Date != "" {
		if parsed, err := time.Parse("2006-01-02", t.Date); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
