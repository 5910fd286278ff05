package gallery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/generation"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
}

type memRepo struct {
	mu     sync.Mutex
	images []*models.GeneratedImage
	clock  time.Time
	seq    int
}

func (r *memRepo) CreateImage(ctx context.Context, img *models.GeneratedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.clock = r.clock.Add(time.Second)
	img.ID = fmt.Sprintf("img-%d", r.seq)
	img.CreatedAt = r.clock
	r.images = append(r.images, img)
	return nil
}

func (r *memRepo) newestFirst(userID string) []*models.GeneratedImage {
	var out []*models.GeneratedImage
	for _, img := range r.images {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memRepo) ListImages(ctx context.Context, userID string, limit int) ([]*models.GeneratedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.newestFirst(userID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetImage(ctx context.Context, userID, id string) (*models.GeneratedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range r.images {
		if img.ID == id && img.UserID == userID {
			return img, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *memRepo) DeleteImage(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, img := range r.images {
		if img.ID == id && img.UserID == userID {
			r.images = append(r.images[:i], r.images[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

func (r *memRepo) TruncateImages(ctx context.Context, userID string, keep int) ([]*models.GeneratedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := r.newestFirst(userID)
	if len(ordered) <= keep {
		return nil, nil
	}
	drop := ordered[keep:]
	dropped := make(map[string]bool, len(drop))
	for _, img := range drop {
		dropped[img.ID] = true
	}
	kept := r.images[:0]
	for _, img := range r.images {
		if !dropped[img.ID] {
			kept = append(kept, img)
		}
	}
	r.images = kept
	return drop, nil
}

type memStore struct {
	objects map[string][]byte
	deleted []string
	putErr  error
}

const storeBase = "https://cdn.test/images/"

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[key] = data
	return storeBase + key, nil
}

func (s *memStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		delete(s.objects, key)
	}
	s.deleted = append(s.deleted, keys...)
	return nil
}

func (s *memStore) KeyFromURL(raw string) (string, bool) {
	if !strings.HasPrefix(raw, storeBase) {
		return "", false
	}
	return strings.TrimPrefix(raw, storeBase), true
}

func newTestService() (*Service, *memRepo, *memStore) {
	repo := &memRepo{clock: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := &memStore{objects: make(map[string][]byte)}
	return NewService(repo, store, nil), repo, store
}

func TestSaveUploadsDataURLs(t *testing.T) {
	svc, _, store := newTestService()

	img, err := svc.Save(context.Background(), "user-1", SaveRequest{
		ImageURL:         pngDataURL(),
		OriginalImageURL: pngDataURL(),
		HaircutStyle:     "Textured <b>Crop</b>",
		Gender:           "male",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(img.ImageURL, storeBase+"users/user-1/"))
	assert.True(t, strings.HasSuffix(img.ImageURL, ".png"))
	assert.NotEqual(t, img.ImageURL, img.OriginalImageURL)
	assert.Equal(t, "Textured Crop", img.HaircutStyle)
	assert.Len(t, store.objects, 2)
}

func TestSaveKeepsExternalURL(t *testing.T) {
	svc, _, store := newTestService()

	img, err := svc.Save(context.Background(), "user-1", SaveRequest{
		ImageURL:     "https://images.example.com/result.png",
		HaircutStyle: "Bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com/result.png", img.ImageURL)
	assert.Empty(t, store.objects)
}

func TestSaveRejectsInput(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Save(context.Background(), "user-1", SaveRequest{ImageURL: "javascript:alert(1)", HaircutStyle: "Bob"})
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = svc.Save(context.Background(), "user-1", SaveRequest{ImageURL: "data:text/plain;base64,aGVsbG8=", HaircutStyle: "Bob"})
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = svc.Save(context.Background(), "user-1", SaveRequest{ImageURL: pngDataURL(), HaircutStyle: "<script></script>"})
	assert.ErrorIs(t, err, generation.ErrMissingStyle)
}

func TestSaveUploadFailure(t *testing.T) {
	svc, repo, store := newTestService()
	store.putErr = errors.New("bucket unavailable")

	_, err := svc.Save(context.Background(), "user-1", SaveRequest{ImageURL: pngDataURL(), HaircutStyle: "Bob"})
	require.Error(t, err)
	assert.Empty(t, repo.images)
}

func TestSaveTruncatesToMostRecent(t *testing.T) {
	svc, _, store := newTestService()
	ctx := context.Background()

	var first *models.GeneratedImage
	for i := 0; i < models.MaxSavedImages+2; i++ {
		img, err := svc.Save(ctx, "user-1", SaveRequest{ImageURL: pngDataURL(), HaircutStyle: fmt.Sprintf("style %d", i)})
		require.NoError(t, err)
		if i == 0 {
			first = img
		}
	}

	images, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, images, models.MaxSavedImages)
	assert.Equal(t, fmt.Sprintf("style %d", models.MaxSavedImages+1), images[0].HaircutStyle)
	assert.Equal(t, "style 2", images[len(images)-1].HaircutStyle)

	assert.Len(t, store.deleted, 2)
	assert.Contains(t, store.deleted, strings.TrimPrefix(first.ImageURL, storeBase))
	assert.Len(t, store.objects, models.MaxSavedImages)
}

func TestListEmpty(t *testing.T) {
	svc, _, _ := newTestService()

	images, err := svc.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotNil(t, images)
	assert.Empty(t, images)
}

func TestDeleteIsOwnerScoped(t *testing.T) {
	svc, repo, store := newTestService()
	ctx := context.Background()

	img, err := svc.Save(ctx, "user-1", SaveRequest{ImageURL: pngDataURL(), HaircutStyle: "Bob"})
	require.NoError(t, err)

	err = svc.Delete(ctx, "user-2", img.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, repo.images, 1)

	require.NoError(t, svc.Delete(ctx, "user-1", img.ID))
	assert.Empty(t, repo.images)
	assert.Empty(t, store.objects)

	assert.ErrorIs(t, svc.Delete(ctx, "user-1", img.ID), ErrNotFound)
}

func TestSaveRejectsAnotherUsersObject(t *testing.T) {
	svc, repo, store := newTestService()
	ctx := context.Background()

	victim, err := svc.Save(ctx, "user-1", SaveRequest{ImageURL: pngDataURL(), HaircutStyle: "Bob"})
	require.NoError(t, err)
	key := strings.TrimPrefix(victim.ImageURL, storeBase)

	_, err = svc.Save(ctx, "user-2", SaveRequest{ImageURL: victim.ImageURL, HaircutStyle: "Bob"})
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = svc.Save(ctx, "user-2", SaveRequest{
		ImageURL:         pngDataURL(),
		OriginalImageURL: storeBase + "users/user-2/../user-1/" + strings.TrimPrefix(key, "users/user-1/"),
		HaircutStyle:     "Bob",
	})
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = svc.Save(ctx, "user-2", SaveRequest{ImageURL: storeBase + "shared/banner.png", HaircutStyle: "Bob"})
	assert.ErrorIs(t, err, ErrInvalidImage)

	assert.Len(t, repo.images, 1)
	assert.Contains(t, store.objects, key)
}

func TestDeleteLeavesForeignObjects(t *testing.T) {
	svc, repo, store := newTestService()
	ctx := context.Background()

	victim, err := svc.Save(ctx, "user-1", SaveRequest{ImageURL: pngDataURL(), HaircutStyle: "Bob"})
	require.NoError(t, err)
	key := strings.TrimPrefix(victim.ImageURL, storeBase)

	// A row pointing at someone else's object, written before URLs were checked
	require.NoError(t, repo.CreateImage(ctx, &models.GeneratedImage{
		UserID:       "user-2",
		ImageURL:     victim.ImageURL,
		HaircutStyle: "Bob",
	}))
	images, err := svc.List(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, images, 1)

	require.NoError(t, svc.Delete(ctx, "user-2", images[0].ID))
	assert.Contains(t, store.objects, key)
	assert.Empty(t, store.deleted)

	own, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, victim.ImageURL, own[0].ImageURL)
}
