package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory provider for tests and local development. Busy
// windows and RSVP states are scripted by the caller.
type Fake struct {
	mu sync.Mutex

	// Busy maps attendee email to scripted busy windows. An email absent
	// from the map reports unknown availability when UnknownEmails has it,
	// otherwise fully free.
	Busy          map[string][]Interval
	UnknownEmails map[string]bool

	// Responses maps attendee email to RSVP status for the current poll.
	Responses map[string]string

	// PollErr, when set, fails AttendeeResponses.
	PollErr error
	// InsertErr, when set, fails the next InsertMeeting.
	InsertErr error

	Bookings []Booking
	Removed  []string

	nextID int
}

func NewFake() *Fake {
	return &Fake{
		Busy:          map[string][]Interval{},
		UnknownEmails: map[string]bool{},
		Responses:     map[string]string{},
	}
}

func (f *Fake) BusyWindows(ctx context.Context, userID, email string, from, to time.Time) ([]Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UnknownEmails[email] {
		return nil, nil
	}
	windows, ok := f.Busy[email]
	if !ok {
		return []Interval{}, nil
	}
	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		if w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *Fake) InsertMeeting(ctx context.Context, userID string, b Booking) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		err := f.InsertErr
		f.InsertErr = nil
		return "", err
	}
	f.nextID++
	f.Bookings = append(f.Bookings, b)
	return fmt.Sprintf("fake-evt-%d", f.nextID), nil
}

func (f *Fake) AttendeeResponses(ctx context.Context, userID, calendarID, eventRef string, emails []string) ([]AttendeeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	out := make([]AttendeeResponse, 0, len(emails))
	for _, email := range emails {
		status, ok := f.Responses[email]
		if !ok {
			status = ResponseUnknown
		}
		out = append(out, AttendeeResponse{Email: email, Status: status})
	}
	return out, nil
}

func (f *Fake) RemoveEvent(ctx context.Context, userID, calendarID, eventRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, eventRef)
	return nil
}

// Disconnected is the provider used when no calendar backend is configured.
// Availability reads as unknown and any write fails.
type Disconnected struct{}

var errNoProvider = errors.New("no calendar provider configured")

func (Disconnected) BusyWindows(ctx context.Context, userID, email string, from, to time.Time) ([]Interval, error) {
	return nil, nil
}

func (Disconnected) InsertMeeting(ctx context.Context, userID string, b Booking) (string, error) {
	return "", errNoProvider
}

func (Disconnected) AttendeeResponses(ctx context.Context, userID, calendarID, eventRef string, emails []string) ([]AttendeeResponse, error) {
	return nil, errNoProvider
}

func (Disconnected) RemoveEvent(ctx context.Context, userID, calendarID, eventRef string) error {
	return errNoProvider
}
