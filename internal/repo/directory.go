package repo

import (
	"context"
	"database/sql"

	"meetline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,display_name,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Email, nullable(u.DisplayName), formatTime(u.CreatedAt))
	return err
}

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var displayName sql.NullString
	var createdAt string
	err := scan(&u.ID, &u.Email, &displayName, &createdAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if displayName.Valid {
		u.DisplayName = displayName.String
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,email,display_name,created_at FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,email,display_name,created_at FROM users WHERE email=?`, email)
	return scanUser(row.Scan)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email,display_name,created_at FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertGroup(ctx context.Context, g domain.Group) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meeting_groups(id,owner_id,name,created_at) VALUES (?,?,?,?)`,
		g.ID, g.OwnerID, g.Name, formatTime(g.CreatedAt))
	return err
}

func (r Repo) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,owner_id,name,created_at FROM meeting_groups WHERE id=?`, id)
	var g domain.Group
	var createdAt string
	err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &createdAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

func (r Repo) ListGroupsForOwner(ctx context.Context, ownerID string) ([]domain.Group, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,name,created_at FROM meeting_groups WHERE owner_id=? ORDER BY name ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Group
	for rows.Next() {
		var g domain.Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.Name, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt = parseTime(createdAt)
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) AddGroupMember(ctx context.Context, groupID, userID string, addedAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id,user_id,added_at) VALUES (?,?,?)`,
		groupID, userID, addedAt)
	return err
}

func (r Repo) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListGroupMemberUsers resolves group membership rows to user records.
func (r Repo) ListGroupMemberUsers(ctx context.Context, groupID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.email,u.display_name,u.created_at FROM group_members gm
JOIN users u ON u.id = gm.user_id
WHERE gm.group_id=? ORDER BY u.email ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertContact(ctx context.Context, c domain.Contact) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO contacts(id,owner_id,group_id,email,display_name,user_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.GroupID, c.Email, nullable(c.DisplayName), nullableStringPtr(c.UserID), formatTime(c.CreatedAt))
	return err
}

func (r Repo) ListContactsForGroup(ctx context.Context, ownerID, groupID string) ([]domain.Contact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,owner_id,group_id,email,display_name,user_id,created_at FROM contacts
WHERE owner_id=? AND group_id=? ORDER BY email ASC`, ownerID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var displayName, userID sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.GroupID, &c.Email, &displayName, &userID, &createdAt); err != nil {
			return nil, err
		}
		if displayName.Valid {
			c.DisplayName = displayName.String
		}
		if userID.Valid {
			v := userID.String
			c.UserID = &v
		}
		c.CreatedAt = parseTime(createdAt)
		res = append(res, c)
	}
	return res, rows.Err()
}
