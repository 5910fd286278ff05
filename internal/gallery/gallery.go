// Package gallery keeps the most recent try-on results a user chose to save.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/generation"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/storage"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/microcosm-cc/bluemonday"
)

const maxStyleLength = 80

var (
	// ErrNotFound means the image does not exist or belongs to someone else
	ErrNotFound = errors.New("image not found")

	// ErrInvalidImage means the submitted image is neither a data URL nor an http(s) URL,
	// or points into storage the user does not own
	ErrInvalidImage = errors.New("invalid image")
)

func userPrefix(userID string) string {
	return "users/" + userID + "/"
}

// ownsKey reports whether an object key lives under the user's own prefix
func ownsKey(userID, key string) bool {
	if userID == "" || strings.Contains(key, "..") {
		return false
	}
	return strings.HasPrefix(key, userPrefix(userID))
}

// Repository is the image table as seen by the gallery
type Repository interface {
	CreateImage(ctx context.Context, img *models.GeneratedImage) error
	ListImages(ctx context.Context, userID string, limit int) ([]*models.GeneratedImage, error)
	DeleteImage(ctx context.Context, userID, id string) error
	GetImage(ctx context.Context, userID, id string) (*models.GeneratedImage, error)
	TruncateImages(ctx context.Context, userID string, keep int) ([]*models.GeneratedImage, error)
}

// ObjectStore holds uploaded image bytes
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DeleteMany(ctx context.Context, keys []string) error
	KeyFromURL(raw string) (string, bool)
}

// SaveRequest is a result the user wants to keep
type SaveRequest struct {
	ImageURL         string `json:"imageUrl" binding:"required"`
	OriginalImageURL string `json:"originalImageUrl"`
	HaircutStyle     string `json:"haircutStyle" binding:"required"`
	Gender           string `json:"gender"`
}

// Service saves, lists and deletes generated images
type Service struct {
	repo   Repository
	store  ObjectStore
	policy *bluemonday.Policy
	logger *logging.Logger
}

// NewService creates a gallery service
func NewService(repo Repository, store ObjectStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		repo:   repo,
		store:  store,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// Save stores the images and trims the user's gallery to the most recent entries
func (s *Service) Save(ctx context.Context, userID string, req SaveRequest) (*models.GeneratedImage, error) {
	style := strings.TrimSpace(s.policy.Sanitize(req.HaircutStyle))
	if style == "" {
		return nil, generation.ErrMissingStyle
	}
	if len([]rune(style)) > maxStyleLength {
		style = string([]rune(style)[:maxStyleLength])
	}

	imageURL, err := s.persist(ctx, userID, req.ImageURL)
	if err != nil {
		return nil, err
	}

	var originalURL string
	if strings.TrimSpace(req.OriginalImageURL) != "" {
		originalURL, err = s.persist(ctx, userID, req.OriginalImageURL)
		if err != nil {
			return nil, err
		}
	}

	img := &models.GeneratedImage{
		UserID:           userID,
		ImageURL:         imageURL,
		OriginalImageURL: originalURL,
		HaircutStyle:     style,
		Gender:           strings.TrimSpace(s.policy.Sanitize(req.Gender)),
	}
	if err := s.repo.CreateImage(ctx, img); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	s.truncate(ctx, userID)
	return img, nil
}

// persist uploads a data URL and returns its object URL. http(s) URLs are kept as is,
// unless they point into our bucket outside the user's prefix.
func (s *Service) persist(ctx context.Context, userID, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:") {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return "", ErrInvalidImage
		}
		if key, ok := s.store.KeyFromURL(raw); ok && !ownsKey(userID, key) {
			s.logger.WithUserID(userID).WithField("key", key).Warn("Rejected image URL outside the user's storage")
			return "", ErrInvalidImage
		}
		return raw, nil
	}

	data, mime, err := generation.DecodePhoto(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	key := userPrefix(userID) + uuid.New().String() + storage.ExtensionFor(mime)
	objectURL, err := s.store.Put(ctx, key, data, mime)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return objectURL, nil
}

// truncate drops rows beyond the cap and removes their objects; failures are only logged
func (s *Service) truncate(ctx context.Context, userID string) {
	deleted, err := s.repo.TruncateImages(ctx, userID, models.MaxSavedImages)
	if err != nil {
		s.logger.WithUserID(userID).WithError(err).Warn("Failed to truncate saved images")
		return
	}
	s.removeObjects(ctx, userID, deleted...)
}

func (s *Service) removeObjects(ctx context.Context, userID string, images ...*models.GeneratedImage) {
	var keys []string
	for _, img := range images {
		for _, u := range []string{img.ImageURL, img.OriginalImageURL} {
			if key, ok := s.store.KeyFromURL(u); ok && ownsKey(userID, key) {
				keys = append(keys, key)
			}
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.store.DeleteMany(ctx, keys); err != nil {
		s.logger.WithUserID(userID).WithError(err).Warn("Failed to delete image objects")
	}
}

// List returns the user's saved images, newest first
func (s *Service) List(ctx context.Context, userID string) ([]*models.GeneratedImage, error) {
	images, err := s.repo.ListImages(ctx, userID, models.MaxSavedImages)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	if images == nil {
		images = []*models.GeneratedImage{}
	}
	return images, nil
}

// Delete removes one of the user's images
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	img, err := s.repo.GetImage(ctx, userID, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	err = s.repo.DeleteImage(ctx, userID, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	s.removeObjects(ctx, userID, img)
	return nil
}
