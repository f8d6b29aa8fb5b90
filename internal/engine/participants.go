package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"meetline/internal/domain"
	"meetline/internal/repo"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ResolveParticipants computes the current invitee set for a plan: group
// members plus group contacts, minus the owner, de-duplicated by normalized
// email. Recomputed on every attempt so membership changes take effect.
func (e Engine) ResolveParticipants(ctx context.Context, ownerID, groupID string) ([]domain.Participant, error) {
	ownerEmail := ""
	owner, err := e.Repo.GetUser(ctx, ownerID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		ownerEmail = normalizeEmail(owner.Email)
	}

	seen := map[string]domain.Participant{}

	members, err := e.Repo.ListGroupMemberUsers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, u := range members {
		email := normalizeEmail(u.Email)
		if email == "" || u.ID == ownerID || email == ownerEmail {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = domain.Participant{Email: email, UserID: u.ID, Label: u.DisplayName}
	}

	contacts, err := e.Repo.ListContactsForGroup(ctx, ownerID, groupID)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		email := normalizeEmail(c.Email)
		if email == "" || email == ownerEmail {
			continue
		}
		if existing, ok := seen[email]; ok {
			// A contact row may carry the registered-user link the
			// membership row lacks.
			if existing.UserID == "" && c.UserID != nil {
				existing.UserID = *c.UserID
				seen[email] = existing
			}
			continue
		}
		p := domain.Participant{Email: email, Label: c.DisplayName}
		if c.UserID != nil {
			p.UserID = *c.UserID
		}
		seen[email] = p
	}

	out := make([]domain.Participant, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// gatherSignals loads busy windows, preferences and stats for each
// participant. Busy lookups fan out in parallel; a failed or impossible
// lookup degrades to unknown availability instead of aborting.
func (e Engine) gatherSignals(ctx context.Context, plan domain.Plan, participants []domain.Participant, from, to time.Time) ([]participantSignals, error) {
	signals := make([]participantSignals, len(participants))
	for i, p := range participants {
		signals[i] = participantSignals{Participant: p}
	}

	var wg sync.WaitGroup
	for i := range signals {
		if signals[i].Participant.UserID == "" {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			busy, err := e.Calendar.BusyWindows(ctx, plan.OwnerID, signals[i].Participant.Email, from, to)
			if err != nil || busy == nil {
				return
			}
			signals[i].Busy = busy
			signals[i].BusyKnown = true
		}(i)
	}
	wg.Wait()

	emails := make([]string, len(participants))
	for i, p := range participants {
		emails[i] = p.Email
	}
	stats, err := e.Repo.StatsForEmails(ctx, plan.OwnerID, plan.GroupID, emails)
	if err != nil {
		return nil, err
	}

	for i := range signals {
		p := signals[i].Participant
		if p.UserID != "" {
			prefs, err := e.Repo.GetTagPreferences(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			signals[i].Prefs = prefs
		}
		if stat, ok := stats[p.Email]; ok {
			signals[i].Stat = &stat
		}
	}
	return signals, nil
}
