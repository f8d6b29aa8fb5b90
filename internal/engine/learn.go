package engine

import (
	"context"
	"database/sql"
	"time"

	"meetline/internal/calendar"
	"meetline/internal/domain"
	"meetline/internal/repo"
)

const (
	outcomeAccepted   = "accepted"
	outcomeDeclined   = "declined"
	outcomeNoResponse = "no_response"
)

// classifyOutcome maps an RSVP status to a learning outcome. Anything that
// is not an explicit accept or decline counts as no response.
func classifyOutcome(status string) string {
	switch status {
	case calendar.ResponseAccepted:
		return outcomeAccepted
	case calendar.ResponseDeclined:
		return outcomeDeclined
	default:
		return outcomeNoResponse
	}
}

// recordLearning folds one resolved response set into member stats. Invited
// emails are the run's frozen list; participants supply current user links.
func (e Engine) recordLearning(ctx context.Context, tx *sql.Tx, plan domain.Plan, invited []string, statuses map[string]string, participants []domain.Participant, now time.Time) error {
	links := map[string]string{}
	for _, p := range participants {
		if p.UserID != "" {
			links[p.Email] = p.UserID
		}
	}
	for _, email := range invited {
		d := repo.StatDelta{
			OwnerID: plan.OwnerID,
			GroupID: plan.GroupID,
			Email:   email,
		}
		outcome := classifyOutcome(statuses[email])
		switch outcome {
		case outcomeAccepted:
			d.Accept = 1
		case outcomeDeclined:
			d.Decline = 1
		default:
			d.NoResponse = 1
		}
		d.LastResponse = outcome
		if uid, ok := links[email]; ok {
			d.UserID = &uid
		}
		if err := e.Repo.ApplyStatDelta(ctx, tx, d, now); err != nil {
			return err
		}
	}
	return nil
}
