package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"meetline/internal/calendar"
	"meetline/internal/config"
	"meetline/internal/domain"
	"meetline/internal/repo"
)

// ResolveUser picks the acting user for a CLI invocation. It prefers the
// override (flag or MEETLINE_USER), then a single-user database. An email
// override that matches no account registers one on the fly so a fresh
// workspace works without a separate register step.
func ResolveUser(ctx context.Context, userOverride string, r repo.Repo) (domain.User, error) {
	userOverride = strings.TrimSpace(userOverride)
	if userOverride == "" {
		users, err := r.ListUsers(ctx)
		if err != nil {
			return domain.User{}, err
		}
		if len(users) == 1 {
			return users[0], nil
		}
		return domain.User{}, fmt.Errorf("user not specified; use --user or set MEETLINE_USER")
	}
	if strings.Contains(userOverride, "@") {
		email := strings.ToLower(userOverride)
		u, err := r.GetUserByEmail(ctx, email)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, err
		}
		u = domain.User{
			ID:        uuid.NewString(),
			Email:     email,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.InsertUser(ctx, u); err != nil {
			return domain.User{}, fmt.Errorf("register user %s: %w", email, err)
		}
		return u, nil
	}
	return r.GetUser(ctx, userOverride)
}

// Provider builds the calendar provider named by config.
func Provider(cfg *config.Config, workspace string, log *slog.Logger) calendar.Provider {
	switch cfg.Calendar.Provider {
	case "google":
		tokenDir := cfg.Calendar.TokenDir
		if tokenDir == "" {
			tokenDir = workspace
		}
		return calendar.NewGoogle(cfg.Calendar.CredentialsFile, "", "", tokenDir, log)
	case "fake":
		return calendar.NewFake()
	default:
		return calendar.Disconnected{}
	}
}
