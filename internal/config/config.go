package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Supabase   SupabaseConfig
	Stripe     StripeConfig
	Generation GenerationConfig
	Cache      CacheConfig
	Email      EmailConfig
	Tracing    TracingConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	RateLimit  RateLimitConfig
	Sweeper    SweeperConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SiteURL         string // public frontend origin used for redirects
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	MinConns    int
	AutoMigrate bool
}

// MigrationURL returns the golang-migrate URL for the pgx/v5 driver
func (d DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration (Supabase Storage S3 endpoint)
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PublicBaseURL   string
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// SupabaseConfig holds identity provider configuration
type SupabaseConfig struct {
	URL          string
	AnonKey      string
	JWTSecret    string
	JWKSURL      string
	CookieDomain string
	CookieSecure bool
}

// StripeConfig holds commerce provider configuration
type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	ProPriceID      string
	PremiumPriceID  string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// GenerationConfig holds generative image API configuration
type GenerationConfig struct {
	Provider          string // gemini, openai
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	Timeout           time.Duration
	MaxAttempts       int
	BaseBackoff       time.Duration
	AnonymousDailyCap int64
}

// CacheConfig holds subscription status cache configuration
type CacheConfig struct {
	SubscriptionStatusTTL time.Duration
	StatusLookupTimeout   time.Duration
}

// EmailConfig holds SMTP configuration for billing notices
type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Port int
}

// RateLimitConfig holds the in-process API rate limiter configuration
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// SweeperConfig holds the stale subscription sweeper configuration
type SweeperConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded into the environment first, if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate checks the settings the API cannot boot without
func (c *Config) Validate() error {
	var errs []error

	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("stripe.secretKey is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe.webhookSecret is required"))
	}
	if c.Stripe.ProPriceID == "" || c.Stripe.PremiumPriceID == "" {
		errs = append(errs, errors.New("stripe.proPriceID and stripe.premiumPriceID are required"))
	}
	if c.Supabase.JWTSecret == "" && c.Supabase.JWKSURL == "" {
		errs = append(errs, errors.New("supabase.jwtSecret or supabase.jwksURL is required"))
	}

	switch c.Generation.Provider {
	case "gemini":
		if c.Generation.GeminiAPIKey == "" {
			errs = append(errs, errors.New("generation.geminiAPIKey is required for the gemini provider"))
		}
	case "openai":
		if c.Generation.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("generation.openAIAPIKey is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown generation provider %q", c.Generation.Provider))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "90s") // generation retries can take a while
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.siteURL", "http://localhost:3000")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)
	v.SetDefault("database.autoMigrate", false)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "generated-images")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Supabase defaults
	v.SetDefault("supabase.url", "http://localhost:54321")
	v.SetDefault("supabase.cookieSecure", true)

	// Stripe defaults
	v.SetDefault("stripe.successURL", "http://localhost:3000/pricing/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancelURL", "http://localhost:3000/pricing")
	v.SetDefault("stripe.portalReturnURL", "http://localhost:3000/account")

	// Generation defaults
	v.SetDefault("generation.provider", "gemini")
	v.SetDefault("generation.geminiBaseURL", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("generation.geminiModel", "gemini-2.5-flash-image-preview")
	v.SetDefault("generation.openAIModel", "dall-e-2")
	v.SetDefault("generation.timeout", "60s")
	v.SetDefault("generation.maxAttempts", 3)
	v.SetDefault("generation.baseBackoff", "2s")
	v.SetDefault("generation.anonymousDailyCap", 3)

	// Cache defaults
	v.SetDefault("cache.subscriptionStatusTTL", "30s")
	v.SetDefault("cache.statusLookupTimeout", "8s")

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.port", 587)
	v.SetDefault("email.from", "HaircutFun <billing@haircutfun.com>")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "haircutfun-api")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.port", 9090)

	// Rate limit defaults
	v.SetDefault("rateLimit.rps", 10)
	v.SetDefault("rateLimit.burst", 20)

	// Sweeper defaults
	v.SetDefault("sweeper.interval", "1h")
	v.SetDefault("sweeper.gracePeriod", "24h")
	v.SetDefault("sweeper.batchSize", 100)
}
