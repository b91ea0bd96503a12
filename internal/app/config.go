package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Draft store backends.
const (
	DraftBackendPostgres = "postgres"
	DraftBackendMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (VPN_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (VPN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (VPN_API_KEY_PEPPER)" flag:"api-key-pepper"`
	// WebhookSecrets maps payment provider names to callback signing secrets,
	// e.g. VPN_WEBHOOK_SECRETS=yookassa:s1,cryptobot:s2.
	WebhookSecrets map[string]string `usage:"Payment provider webhook secrets (provider:secret,...)" flag:"webhook-secrets"`
	Checkout       CheckoutConfig
	Telegram       TelegramConfig
	RateLimit      RateLimitConfig
	Graceful       GracefulConfig
}

// CheckoutConfig controls drafts and the price guard.
type CheckoutConfig struct {
	DraftTTL      time.Duration `default:"1h" usage:"Checkout draft lifetime" flag:"draft-ttl"`
	DraftBackend  string        `default:"postgres" usage:"Draft store: postgres or memory" flag:"draft-backend"`
	MemorySize    int           `default:"10000" usage:"Max drafts kept by the memory store" flag:"draft-memory-size"`
	PurgeInterval time.Duration `default:"10m" usage:"Expired draft cleanup interval" flag:"draft-purge-interval"`
	StrictGuard   bool          `default:"true" usage:"Compare every quote component before charging" flag:"strict-guard"`
}

// TelegramConfig enables the Telegram bot when Token is set.
type TelegramConfig struct {
	Token       string `usage:"Telegram bot token (VPN_TELEGRAM_TOKEN)" flag:"telegram-token"`
	PollTimeout int    `default:"60" usage:"Long polling timeout in seconds" flag:"telegram-poll-timeout"`
}

// RateLimitConfig controls the per API key sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"120" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VPN",
		Files:     []string{"config.yaml", "/etc/vpn-checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set VPN_DATABASE_URL or DATABASE_URL")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set VPN_API_KEY_PEPPER")
	case c.Checkout.DraftBackend != DraftBackendPostgres && c.Checkout.DraftBackend != DraftBackendMemory:
		return errors.Errorf("unknown draft backend %q", c.Checkout.DraftBackend)
	case c.Checkout.DraftBackend == DraftBackendMemory && c.Checkout.MemorySize <= 0:
		return errors.New("memory draft store size must be positive")
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
