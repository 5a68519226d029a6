package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultCalendarID = "primary"

// googleAPI implements API over the Google Calendar v3 client.
type googleAPI struct {
	calendarID string
	opts       []option.ClientOption
}

// GoogleOption adjusts the Google API adapter.
type GoogleOption func(*googleAPI)

// WithCalendarID targets a calendar other than the user's primary one.
func WithCalendarID(id string) GoogleOption {
	return func(a *googleAPI) { a.calendarID = id }
}

// WithClientOptions appends raw client options, for tests pointing the
// adapter at a local endpoint.
func WithClientOptions(opts ...option.ClientOption) GoogleOption {
	return func(a *googleAPI) { a.opts = append(a.opts, opts...) }
}

// NewGoogleAPI builds the production adapter over Google Calendar.
func NewGoogleAPI(opts ...GoogleOption) API {
	a := &googleAPI{calendarID: defaultCalendarID}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *googleAPI) service(ctx context.Context, accessToken string) (*gcalendar.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	opts := append([]option.ClientOption{option.WithTokenSource(source)}, a.opts...)
	svc, err := gcalendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("build calendar client: %w", err)
	}
	return svc, nil
}

func (a *googleAPI) ListEvents(ctx context.Context, accessToken string, timeMin, timeMax time.Time) ([]Event, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	res, err := svc.Events.List(a.calendarID).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		TimeMax(timeMax.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(50).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapGoogleError(err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, eventFromGoogle(item))
	}
	return events, nil
}

func (a *googleAPI) InsertEvent(ctx context.Context, accessToken string, input CreateEventInput) (Event, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return Event{}, err
	}

	body := &gcalendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start:       &gcalendar.EventDateTime{DateTime: input.Start.UTC().Format(time.RFC3339)},
		End:         &gcalendar.EventDateTime{DateTime: input.End.UTC().Format(time.RFC3339)},
	}
	for _, email := range input.Attendees {
		body.Attendees = append(body.Attendees, &gcalendar.EventAttendee{Email: email})
	}

	created, err := svc.Events.Insert(a.calendarID, body).Context(ctx).Do()
	if err != nil {
		return Event{}, wrapGoogleError(err)
	}
	return eventFromGoogle(created), nil
}

func eventFromGoogle(item *gcalendar.Event) Event {
	event := Event{
		ID:      item.Id,
		Summary: item.Summary,
		Link:    item.HtmlLink,
		Status:  item.Status,
	}
	event.Start = parseEventTime(item.Start)
	event.End = parseEventTime(item.End)
	for _, attendee := range item.Attendees {
		if attendee.Email != "" {
			event.Attendees = append(event.Attendees, attendee.Email)
		}
	}
	return event
}

// parseEventTime handles both timed entries (DateTime) and all-day entries
// (Date only).
func parseEventTime(edt *gcalendar.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func wrapGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		message := gerr.Message
		if message == "" {
			message = gerr.Error()
		}
		return &APIError{StatusCode: gerr.Code, Message: message}
	}
	return fmt.Errorf("call calendar api: %w", err)
}
