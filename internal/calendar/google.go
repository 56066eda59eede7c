package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/timeslot"
)

// GoogleBusySource reads one Google calendar through a service account.
// Every owner shares that calendar.
type GoogleBusySource struct {
	svc        *gcal.Service
	calendarID string
}

// NewGoogleBusySource authenticates with service-account JSON credentials.
func NewGoogleBusySource(ctx context.Context, credentialsJSON []byte, calendarID string) (*GoogleBusySource, error) {
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return NewGoogleBusySourceFromService(svc, calendarID), nil
}

// NewGoogleBusySourceFromService wraps an already configured service.
func NewGoogleBusySourceFromService(svc *gcal.Service, calendarID string) *GoogleBusySource {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleBusySource{svc: svc, calendarID: calendarID}
}

// Busy lists opaque, non-cancelled events in [from, to). All-day events
// block their whole UTC days.
func (g *GoogleBusySource) Busy(ctx context.Context, _ uint64, from, to time.Time) ([]conflict.Commitment, error) {
	call := g.svc.Events.List(g.calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		MaxResults(250)

	var out []conflict.Commitment
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Transparency == "transparent" {
				continue
			}
			iv, ok := eventInterval(item)
			if !ok {
				continue
			}
			out = append(out, conflict.Commitment{
				Ref:      conflict.Ref{Kind: conflict.RefCalendar, ExternalID: item.Id},
				Interval: iv,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return out, nil
}

func eventInterval(item *gcal.Event) (timeslot.Interval, bool) {
	start, ok := eventTime(item.Start)
	if !ok {
		return timeslot.Interval{}, false
	}
	end, ok := eventTime(item.End)
	if !ok {
		return timeslot.Interval{}, false
	}
	iv, err := timeslot.New(start, end)
	return iv, err == nil
}

func eventTime(t *gcal.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		return v, err == nil
	}
	if t.Date != "" {
		v, err := time.Parse("2006-01-02", t.Date)
		return v, err == nil
	}
	return time.Time{}, false
}
