package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/jackc/pgx/v5"
)

const imageColumns = `id, user_id, image_url, original_image_url, haircut_style, gender, created_at`

func scanImage(row pgx.Row) (*models.GeneratedImage, error) {
	var img models.GeneratedImage
	err := row.Scan(&img.ID, &img.UserID, &img.ImageURL, &img.OriginalImageURL, &img.HaircutStyle, &img.Gender, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func collectImages(rows pgx.Rows) ([]*models.GeneratedImage, error) {
	defer rows.Close()

	var images []*models.GeneratedImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// CreateImage inserts a saved image
func (r *Repository) CreateImage(ctx context.Context, img *models.GeneratedImage) (err error) {
	defer func(start time.Time) { observe("create_image", start, err) }(time.Now())

	if img.ID == "" {
		img.ID = uuid.New().String()
	}

	query := `
		INSERT INTO generated_images (id, user_id, image_url, original_image_url, haircut_style, gender)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		img.ID, img.UserID, img.ImageURL, img.OriginalImageURL, img.HaircutStyle, img.Gender,
	).Scan(&img.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	return nil
}

// ListImages returns a user's saved images, newest first
func (r *Repository) ListImages(ctx context.Context, userID string, limit int) (images []*models.GeneratedImage, err error) {
	defer func(start time.Time) { observe("list_images", start, err) }(time.Now())

	query := `SELECT ` + imageColumns + `
		FROM generated_images
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images, err = collectImages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// GetImage returns one of the user's images
func (r *Repository) GetImage(ctx context.Context, userID, id string) (img *models.GeneratedImage, err error) {
	defer func(start time.Time) { observe("get_image", start, err) }(time.Now())

	query := `SELECT ` + imageColumns + ` FROM generated_images WHERE id = $1 AND user_id = $2`

	img, err = scanImage(r.db.Pool.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return img, nil
}

// DeleteImage deletes one of the user's images
func (r *Repository) DeleteImage(ctx context.Context, userID, id string) (err error) {
	defer func(start time.Time) { observe("delete_image", start, err) }(time.Now())

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM generated_images WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TruncateImages deletes all but the keep most recent images and returns the deleted rows
func (r *Repository) TruncateImages(ctx context.Context, userID string, keep int) (deleted []*models.GeneratedImage, err error) {
	defer func(start time.Time) { observe("truncate_images", start, err) }(time.Now())

	query := `
		DELETE FROM generated_images
		WHERE user_id = $1 AND id IN (
			SELECT id FROM generated_images
			WHERE user_id = $1
			ORDER BY created_at DESC
			OFFSET $2
		)
		RETURNING ` + imageColumns

	rows, err := r.db.Pool.Query(ctx, query, userID, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to truncate images: %w", err)
	}

	deleted, err = collectImages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to truncate images: %w", err)
	}
	return deleted, nil
}
