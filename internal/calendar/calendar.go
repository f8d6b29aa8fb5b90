// Package calendar abstracts the meeting host's calendar backend.
package calendar

import (
	"context"
	"time"
)

// Interval is a half-open busy window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Booking is the payload for creating an invite on the host's calendar.
type Booking struct {
	CalendarID  string
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Attendees   []string
}

// AttendeeResponse is one invitee's current RSVP state.
// Status is "accepted", "declined" or "unknown".
type AttendeeResponse struct {
	Email  string
	Status string
}

const (
	ResponseAccepted = "accepted"
	ResponseDeclined = "declined"
	ResponseUnknown  = "unknown"
)

// Provider is the calendar backend used for availability lookups, event
// booking and RSVP polling. All calls are scoped to the acting user.
type Provider interface {
	// BusyWindows returns busy intervals for an attendee within the range.
	// A nil slice with nil error means availability is unknown for that
	// attendee, which is distinct from an empty (fully free) result.
	BusyWindows(ctx context.Context, userID, email string, from, to time.Time) ([]Interval, error)

	// InsertMeeting books the event and returns the provider's event ref.
	InsertMeeting(ctx context.Context, userID string, b Booking) (string, error)

	// AttendeeResponses polls RSVP state for the given invitees.
	AttendeeResponses(ctx context.Context, userID, calendarID, eventRef string, emails []string) ([]AttendeeResponse, error)

	// RemoveEvent deletes a previously booked event.
	RemoveEvent(ctx context.Context, userID, calendarID, eventRef string) error
}

// Overlaps reports whether the interval intersects [start, end).
func (iv Interval) Overlaps(start, end time.Time) bool {
	return iv.Start.Before(end) && start.Before(iv.End)
}
