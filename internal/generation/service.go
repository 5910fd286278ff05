package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haircutfun/haircutfun/internal/cache"
	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/retry"
	"github.com/haircutfun/haircutfun/internal/usage"
	"github.com/haircutfun/haircutfun/pkg/models"
)

// MaxPhotoBytes bounds a decoded upload
const MaxPhotoBytes = 8 << 20

const anonymousWindow = 24 * time.Hour

var (
	// ErrPaymentRequired means the caller has no generations left
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvalidPhoto means the uploaded photo could not be decoded
	ErrInvalidPhoto = errors.New("invalid photo")

	// ErrMissingStyle means no hairstyle was requested
	ErrMissingStyle = errors.New("haircut style is required")
)

// Entitlements is the usage ledger as seen by generation
type Entitlements interface {
	CanGenerate(ctx context.Context, userID string) (*usage.Entitlement, error)
	RecordGeneration(ctx context.Context, userID string) (*models.UsageTracking, error)
	CurrentMonth() string
}

// AnonymousLimiter caps first tries per client address
type AnonymousLimiter interface {
	Allow(ctx context.Context, clientIP string) (bool, error)
}

// UsagePublisher defers usage increments that could not be recorded inline
type UsagePublisher interface {
	PublishUsageEvent(ctx context.Context, event *models.UsageEvent) error
}

// RedisAnonymousCap limits anonymous tries per IP per day
type RedisAnonymousCap struct {
	cache *cache.Cache
	limit int64
}

// NewRedisAnonymousCap creates a per-IP daily cap
func NewRedisAnonymousCap(c *cache.Cache, limit int64) *RedisAnonymousCap {
	return &RedisAnonymousCap{cache: c, limit: limit}
}

// Allow counts a try for clientIP
func (r *RedisAnonymousCap) Allow(ctx context.Context, clientIP string) (bool, error) {
	return r.cache.CheckRateLimit(ctx, "anon-generate:"+clientIP, r.limit, anonymousWindow)
}

// Request is one generation request
type Request struct {
	UserID     string // empty for anonymous callers
	ClientIP   string
	IsFirstTry bool
	Photo      string // data URL or bare base64
	Style      string
	Gender     string
}

// Result is a generated preview
type Result struct {
	ImageData string `json:"imageData"`
	MIMEType  string `json:"-"`
	Attempts  int    `json:"-"`
}

// Options configures a Service
type Options struct {
	Model     ImageModel
	Ledger    Entitlements
	Anonymous AnonymousLimiter
	Publisher UsagePublisher
	Logger    *logging.Logger
	Policy    retry.Policy
}

// Service checks entitlement, calls the model and records usage
type Service struct {
	model     ImageModel
	ledger    Entitlements
	anonymous AnonymousLimiter
	publisher UsagePublisher
	logger    *logging.Logger
	policy    retry.Policy
}

// NewService creates a generation service. Policy.Retryable defaults to 5xx upstream errors.
func NewService(opts Options) *Service {
	s := &Service{
		model:     opts.Model,
		ledger:    opts.Ledger,
		anonymous: opts.Anonymous,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		policy:    opts.Policy,
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.policy.Retryable == nil {
		s.policy.Retryable = IsServerError
	}
	provider := s.model.Name()
	onRetry := s.policy.OnRetry
	s.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.LogGenerationAttempt(provider, attempt, delay, err)
		metrics.RecordGenerationRetry(provider)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return s
}

// PolicyFromConfig builds the retry policy for the generation path
func PolicyFromConfig(cfg config.GenerationConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.BaseBackoff,
		Retryable:   IsServerError,
	}
}

// NewModel builds the configured image model
func NewModel(cfg config.GenerationConfig) (ImageModel, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGemini(&http.Client{Timeout: cfg.Timeout}, cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
}

// DecodePhoto accepts a data URL or bare base64 and returns the bytes and MIME type
func DecodePhoto(photo string) ([]byte, string, error) {
	photo = strings.TrimSpace(photo)
	if photo == "" {
		return nil, "", ErrInvalidPhoto
	}

	declared := ""
	if strings.HasPrefix(photo, "data:") {
		header, payload, ok := strings.Cut(photo, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, "", ErrInvalidPhoto
		}
		declared = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		photo = payload
	}

	if base64.StdEncoding.DecodedLen(len(photo)) > MaxPhotoBytes+3 {
		return nil, "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidPhoto, MaxPhotoBytes)
	}
	data, err := base64.StdEncoding.DecodeString(photo)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPhoto, err)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		if !strings.HasPrefix(declared, "image/") {
			return nil, "", fmt.Errorf("%w: not an image", ErrInvalidPhoto)
		}
		mime = declared
	}
	return data, mime, nil
}

func (s *Service) authorize(ctx context.Context, req Request) error {
	if req.UserID == "" {
		if !req.IsFirstTry {
			metrics.RecordQuotaRejection("anonymous")
			return ErrPaymentRequired
		}
		if s.anonymous == nil {
			return nil
		}
		allowed, err := s.anonymous.Allow(ctx, req.ClientIP)
		if err != nil {
			s.logger.WithError(err).Warn("Anonymous cap unavailable, allowing first try")
			return nil
		}
		if !allowed {
			metrics.RecordQuotaRejection("anonymous")
			return ErrPaymentRequired
		}
		return nil
	}

	ent, err := s.ledger.CanGenerate(ctx, req.UserID)
	if err != nil {
		return err
	}
	if !ent.Allowed {
		metrics.RecordQuotaRejection("user")
		return ErrPaymentRequired
	}
	return nil
}

// Generate produces a preview for req
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Style) == "" {
		return nil, ErrMissingStyle
	}
	photo, mime, err := DecodePhoto(req.Photo)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	provider := s.model.Name()
	modelReq := ModelRequest{Photo: photo, MIMEType: mime, Prompt: BuildPrompt(req.Style, req.Gender)}

	var (
		img      *Image
		attempts int
	)
	start := time.Now()
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		out, err := s.model.Generate(ctx, modelReq)
		metrics.RecordGenerationAttempt(provider, attemptOutcome(err))
		if err != nil {
			return err
		}
		img = out
		return nil
	})
	metrics.RecordGenerationDuration(provider, time.Since(start).Seconds())
	if err != nil {
		s.logger.WithUserID(req.UserID).WithError(err).WithField("attempts", attempts).Warn("Generation failed")
		return nil, err
	}

	if req.UserID != "" {
		s.recordUsage(ctx, req.UserID)
	}

	return &Result{
		ImageData: "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		MIMEType:  img.MIMEType,
		Attempts:  attempts,
	}, nil
}

// recordUsage counts the generation. Failures never reach the caller.
func (s *Service) recordUsage(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.ledger.RecordGeneration(ctx, userID)
	if err == nil {
		return
	}

	log := s.logger.WithUserID(userID).WithError(err)
	if s.publisher == nil {
		log.Error("Failed to record generation, usage dropped")
		metrics.RecordUsageIncrement("dropped")
		return
	}

	event := &models.UsageEvent{
		ID:         uuid.New().String(),
		UserID:     userID,
		MonthYear:  s.ledger.CurrentMonth(),
		Reason:     "record_failed",
		OccurredAt: time.Now().UTC(),
	}
	if perr := s.publisher.PublishUsageEvent(ctx, event); perr != nil {
		log.WithField("publish_error", perr.Error()).Error("Failed to record or defer generation, usage dropped")
		metrics.RecordUsageIncrement("dropped")
		return
	}
	log.Warn("Failed to record generation, deferred to queue")
	metrics.RecordUsageIncrement("deferred")
}

func attemptOutcome(err error) string {
	var (
		upstream *UpstreamError
		safety   *SafetyError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &safety):
		return "blocked"
	case errors.As(err, &upstream) && upstream.ServerSide():
		return "upstream_error"
	case errors.As(err, &upstream):
		return "rejected"
	}
	return "error"
}
