package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// demoAPI serves deterministic events from process memory so the assistant
// runs end to end without Google credentials.
type demoAPI struct {
	mu     sync.Mutex
	next   int
	events []Event
}

// NewDemoAPI builds an in-memory provider seeded with a couple of fixture
// events around the given reference time.
func NewDemoAPI(now time.Time) API {
	day := now.UTC().Truncate(24 * time.Hour)
	return &demoAPI{
		next: 1,
		events: []Event{
			{
				ID:      "demo-standup",
				Summary: "Team standup",
				Start:   day.Add(9 * time.Hour),
				End:     day.Add(9*time.Hour + 30*time.Minute),
				Status:  "confirmed",
			},
			{
				ID:      "demo-review",
				Summary: "Design review",
				Start:   day.Add(26 * time.Hour),
				End:     day.Add(27 * time.Hour),
				Status:  "confirmed",
			},
		},
	}
}

func (a *demoAPI) ListEvents(_ context.Context, _ string, timeMin, timeMax time.Time) ([]Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Event
	for _, event := range a.events {
		if event.End.Before(timeMin) || event.Start.After(timeMax) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (a *demoAPI) InsertEvent(_ context.Context, _ string, input CreateEventInput) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	event := Event{
		ID:        fmt.Sprintf("demo-event-%d", a.next),
		Summary:   input.Summary,
		Start:     input.Start,
		End:       input.End,
		Attendees: input.Attendees,
		Status:    "confirmed",
	}
	event.Link = "https://calendar.example/event/" + event.ID
	a.next++
	a.events = append(a.events, event)
	return event, nil
}
