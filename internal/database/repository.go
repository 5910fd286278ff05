package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/jackc/pgx/v5"
)

// Repository provides database operations. All queries are scoped by user id
// because the service connects with a credential that bypasses row-level security.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Profiles

const profileColumns = `user_id, email, full_name, avatar_url, has_pro_access, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.UserProfile, error) {
	var p models.UserProfile
	err := row.Scan(&p.UserID, &p.Email, &p.FullName, &p.AvatarURL, &p.HasProAccess, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile retrieves a profile by user id
func (r *Repository) GetProfile(ctx context.Context, userID string) (p *models.UserProfile, err error) {
	defer func(start time.Time) { observe("get_profile", start, err) }(time.Now())

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`

	p, err = scanProfile(r.db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// EnsureProfile returns the user's profile, creating it on first sight.
// A blank stored email is filled in from the identity token.
func (r *Repository) EnsureProfile(ctx context.Context, userID, email string) (p *models.UserProfile, err error) {
	defer func(start time.Time) { observe("ensure_profile", start, err) }(time.Now())

	query := `
		INSERT INTO profiles (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET email = CASE WHEN profiles.email = '' THEN EXCLUDED.email ELSE profiles.email END
		RETURNING ` + profileColumns

	p, err = scanProfile(r.db.Pool.QueryRow(ctx, query, userID, email))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return p, nil
}

// UpdateProfile updates the editable profile fields
func (r *Repository) UpdateProfile(ctx context.Context, userID, fullName, avatarURL string) (p *models.UserProfile, err error) {
	defer func(start time.Time) { observe("update_profile", start, err) }(time.Now())

	query := `
		UPDATE profiles
		SET full_name = $2, avatar_url = $3, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + profileColumns

	p, err = scanProfile(r.db.Pool.QueryRow(ctx, query, userID, fullName, avatarURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// SetProAccess sets the legacy one-time purchase flag, creating the profile if needed
func (r *Repository) SetProAccess(ctx context.Context, userID string, granted bool) (err error) {
	defer func(start time.Time) { observe("set_pro_access", start, err) }(time.Now())

	query := `
		INSERT INTO profiles (user_id, has_pro_access)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET has_pro_access = EXCLUDED.has_pro_access, updated_at = NOW()
	`

	if _, err = r.db.Pool.Exec(ctx, query, userID, granted); err != nil {
		return fmt.Errorf("failed to set pro access: %w", err)
	}
	return nil
}
