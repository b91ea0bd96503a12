package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		DatabaseURL:  "postgres://localhost/vpn",
		APIKeyPepper: "pepper",
		Checkout:     CheckoutConfig{DraftBackend: DraftBackendPostgres, DraftTTL: time.Hour},
		RateLimit:    RateLimitConfig{Max: 10, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "no database", modify: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL"},
		{name: "no pepper", modify: func(c *Config) { c.APIKeyPepper = "" }, wantErr: "pepper"},
		{name: "bad backend", modify: func(c *Config) { c.Checkout.DraftBackend = "redis" }, wantErr: "redis"},
		{
			name: "memory without size",
			modify: func(c *Config) {
				c.Checkout.DraftBackend = DraftBackendMemory
				c.Checkout.MemorySize = 0
			},
			wantErr: "size",
		},
		{name: "rate limit", modify: func(c *Config) { c.RateLimit.Max = 0 }, wantErr: "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}
