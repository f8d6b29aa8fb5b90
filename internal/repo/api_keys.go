package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	"meetline/internal/domain"
)

// HashAPIKey returns the hex sha256 of a raw key. Only hashes are stored.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, k domain.APIKey) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id,user_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		k.ID, k.UserID, nullable(k.Name), k.KeyHash, k.CreatedAt)
	return err
}

// UserIDForAPIKey resolves a raw presented key to its owning user.
func (r Repo) UserIDForAPIKey(ctx context.Context, raw string) (string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT user_id FROM api_keys WHERE key_hash=?`, HashAPIKey(raw))
	var userID string
	err := row.Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (r Repo) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,name,key_hash,created_at FROM api_keys WHERE user_id=? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		var name sql.NullString
		if err := rows.Scan(&k.ID, &k.UserID, &name, &k.KeyHash, &k.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			k.Name = name.String
		}
		res = append(res, k)
	}
	return res, rows.Err()
}
