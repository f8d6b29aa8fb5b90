package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Google talks to the Google Calendar API with one OAuth token per user.
// Tokens live in TokenDir as token-<userID>.json, produced by the auth flow.
type Google struct {
	CredentialsFile string
	ClientID        string
	ClientSecret    string
	TokenDir        string
	Log             *slog.Logger

	mu       sync.Mutex
	services map[string]*gcal.Service
}

func NewGoogle(credentialsFile, clientID, clientSecret, tokenDir string, log *slog.Logger) *Google {
	return &Google{
		CredentialsFile: credentialsFile,
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		TokenDir:        tokenDir,
		Log:             log,
		services:        map[string]*gcal.Service{},
	}
}

// OAuthConfig builds the OAuth2 config, preferring explicit client id and
// secret over the credentials file.
func (g *Google) OAuthConfig() (*oauth2.Config, error) {
	if g.ClientID != "" && g.ClientSecret != "" {
		return &oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{gcal.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}
	b, err := os.ReadFile(g.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	cfg.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return cfg, nil
}

func (g *Google) tokenPath(userID string) string {
	return filepath.Join(g.TokenDir, fmt.Sprintf("token-%s.json", userID))
}

// SaveToken persists an exchanged token for a user.
func (g *Google) SaveToken(userID string, tok *oauth2.Token) error {
	f, err := os.Create(g.tokenPath(userID))
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

func (g *Google) service(ctx context.Context, userID string) (*gcal.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if svc, ok := g.services[userID]; ok {
		return svc, nil
	}
	cfg, err := g.OAuthConfig()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(g.tokenPath(userID))
	if err != nil {
		return nil, fmt.Errorf("no calendar token for user %s; run ml calendar auth first: %w", userID, err)
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	g.services[userID] = svc
	return svc, nil
}

func (g *Google) BusyWindows(ctx context.Context, userID, email string, from, to time.Time) ([]Interval, error) {
	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}
	req := &gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: email}},
	}
	res, err := svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}
	cal, ok := res.Calendars[email]
	if !ok || len(cal.Errors) > 0 {
		// The provider cannot see this attendee's calendar.
		return nil, nil
	}
	out := make([]Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err1 := time.Parse(time.RFC3339, p.Start)
		end, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out, nil
}

func (g *Google) InsertMeeting(ctx context.Context, userID string, b Booking) (string, error) {
	svc, err := g.service(ctx, userID)
	if err != nil {
		return "", err
	}
	attendees := make([]*gcal.EventAttendee, 0, len(b.Attendees))
	for _, email := range b.Attendees {
		attendees = append(attendees, &gcal.EventAttendee{Email: email})
	}
	ev := &gcal.Event{
		Summary:     b.Title,
		Description: b.Description,
		Location:    b.Location,
		Start:       &gcal.EventDateTime{DateTime: b.StartsAt.UTC().Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: b.EndsAt.UTC().Format(time.RFC3339)},
		Attendees:   attendees,
	}
	created, err := svc.Events.Insert(b.CalendarID, ev).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	if g.Log != nil {
		g.Log.Info("calendar event booked", "user", userID, "event", created.Id, "start", b.StartsAt)
	}
	return created.Id, nil
}

func (g *Google) AttendeeResponses(ctx context.Context, userID, calendarID, eventRef string, emails []string) ([]AttendeeResponse, error) {
	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}
	ev, err := svc.Events.Get(calendarID, eventRef).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	byEmail := map[string]string{}
	for _, a := range ev.Attendees {
		byEmail[strings.ToLower(a.Email)] = a.ResponseStatus
	}
	out := make([]AttendeeResponse, 0, len(emails))
	for _, email := range emails {
		status := ResponseUnknown
		switch byEmail[strings.ToLower(email)] {
		case "accepted":
			status = ResponseAccepted
		case "declined":
			status = ResponseDeclined
		}
		out = append(out, AttendeeResponse{Email: email, Status: status})
	}
	return out, nil
}

func (g *Google) RemoveEvent(ctx context.Context, userID, calendarID, eventRef string) error {
	svc, err := g.service(ctx, userID)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(calendarID, eventRef).SendUpdates("all").Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
