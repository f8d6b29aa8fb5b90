package repo

import (
	"context"
	"database/sql"
	"time"

	"meetline/internal/domain"
)

// StatDelta is one response outcome to fold into a member's running record.
// Exactly one of the counts should be 1.
type StatDelta struct {
	OwnerID      string
	GroupID      string
	Email        string
	UserID       *string
	Accept       int
	Decline      int
	NoResponse   int
	LastResponse string
}

// ApplyStatDelta upserts a member stat row atomically. Existing counts are
// incremented rather than replaced so concurrent syncs cannot lose updates.
func (r Repo) ApplyStatDelta(ctx context.Context, tx *sql.Tx, d StatDelta, now time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO member_stats(owner_id,group_id,email,accept_count,decline_count,no_response_count,last_response,user_id,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(owner_id,group_id,email) DO UPDATE SET
  accept_count=accept_count+excluded.accept_count,
  decline_count=decline_count+excluded.decline_count,
  no_response_count=no_response_count+excluded.no_response_count,
  last_response=excluded.last_response,
  user_id=COALESCE(excluded.user_id, user_id),
  updated_at=excluded.updated_at`,
		d.OwnerID, d.GroupID, d.Email, d.Accept, d.Decline, d.NoResponse,
		nullable(d.LastResponse), nullableStringPtr(d.UserID), formatTime(now))
	return err
}

func scanMemberStat(scan func(dest ...any) error) (domain.MemberStat, error) {
	var m domain.MemberStat
	var lastResponse, userID sql.NullString
	var updatedAt string
	err := scan(&m.OwnerID, &m.GroupID, &m.Email, &m.AcceptCount, &m.DeclineCount, &m.NoResponseCount, &lastResponse, &userID, &updatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if lastResponse.Valid {
		m.LastResponse = lastResponse.String
	}
	if userID.Valid {
		m.UserID = userID.String
	}
	m.UpdatedAt = parseTime(updatedAt)
	return m, nil
}

const memberStatColumns = `owner_id,group_id,email,accept_count,decline_count,no_response_count,last_response,user_id,updated_at`

func (r Repo) GetMemberStat(ctx context.Context, ownerID, groupID, email string) (domain.MemberStat, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+memberStatColumns+` FROM member_stats WHERE owner_id=? AND group_id=? AND email=?`, ownerID, groupID, email)
	return scanMemberStat(row.Scan)
}

func (r Repo) ListMemberStats(ctx context.Context, ownerID, groupID string) ([]domain.MemberStat, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+memberStatColumns+` FROM member_stats WHERE owner_id=? AND group_id=? ORDER BY email ASC`, ownerID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MemberStat
	for rows.Next() {
		m, err := scanMemberStat(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// StatsForEmails loads stats for a set of emails in one pass, keyed by email.
// Emails with no history are simply absent from the map.
func (r Repo) StatsForEmails(ctx context.Context, ownerID, groupID string, emails []string) (map[string]domain.MemberStat, error) {
	res := map[string]domain.MemberStat{}
	for _, email := range emails {
		m, err := r.GetMemberStat(ctx, ownerID, groupID, email)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		res[email] = m
	}
	return res, nil
}
