package google

import (
	"testing"
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

func TestParseEventTime(t *testing.T) {
	tests := []struct {
		name string
		in   *calendar.EventDateTime
		want time.Time
	}{
		{
			"timed event",
			&calendar.EventDateTime{DateTime: "2026-09-07T10:00:00-03:00"},
			time.Date(2026, 9, 7, 10, 0, 0, 0, time.FixedZone("", -3*3600)),
		},
		{
			"all-day event",
			&calendar.EventDateTime{Date: "2026-09-07"},
			time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			"dateTime wins over date",
			&calendar.EventDateTime{DateTime: "2026-09-07T10:00:00Z", Date: "2026-01-01"},
			time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		},
		{
			"garbage",
			&calendar.EventDateTime{DateTime: "not a time"},
			time.Time{},
		},
		{
			"empty",
			&calendar.EventDateTime{},
			time.Time{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEventTime(tt.in)
			if !got.Equal(tt.want) {
				t.Fatalf("parseEventTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromAPIEvent(t *testing.T) {
	item := &calendar.Event{
		Id:          "ev-1",
		Summary:     "Missa Dominical",
		Description: "desc",
		Location:    "Igreja Matriz",
		Status:      StatusConfirmed,
		Start:       &calendar.EventDateTime{DateTime: "2026-09-07T10:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2026-09-07T11:00:00Z"},
	}

	ev := fromAPIEvent(item)
	if ev.ID != "ev-1" || ev.Summary != "Missa Dominical" || ev.Location != "Igreja Matriz" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Cancelled() {
		t.Fatal("confirmed event must not report cancelled")
	}
	if ev.End.Sub(ev.Start) != time.Hour {
		t.Fatalf("unexpected duration %s", ev.End.Sub(ev.Start))
	}
}

func TestFromAPIEventCancelledWithoutTimes(t *testing.T) {
	ev := fromAPIEvent(&calendar.Event{Id: "ev-2", Status: StatusCancelled})
	if !ev.Cancelled() {
		t.Fatal("expected cancelled")
	}
	if !ev.Start.IsZero() || !ev.End.IsZero() {
		t.Fatalf("cancelled event should carry zero times, got %v/%v", ev.Start, ev.End)
	}
}
