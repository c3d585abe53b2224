package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/claimflow/config"
)

func TestConfigValidation(t *testing.T) {
	t.Run("valid_default_config", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, "0.0.0.0:8080", cfg.APIAddr())
	})

	tests := []struct {
		name      string
		configMod func(*config.Config)
		wantErr   error
	}{
		{
			name:      "invalid_api_port_zero",
			configMod: func(c *config.Config) { c.APIPort = 0 },
			wantErr:   config.ErrInvalidAPIPort,
		},
		{
			name:      "invalid_api_port_too_high",
			configMod: func(c *config.Config) { c.APIPort = 70000 },
			wantErr:   config.ErrInvalidAPIPort,
		},
		{
			name:      "zero_step_timeout",
			configMod: func(c *config.Config) { c.StepTimeout = 0 },
			wantErr:   config.ErrInvalidStepTimeout,
		},
		{
			name:      "zero_max_attempts",
			configMod: func(c *config.Config) { c.Retry.MaxAttempts = 0 },
			wantErr:   config.ErrInvalidRetryMaxAttempts,
		},
		{
			name:      "zero_init_backoff",
			configMod: func(c *config.Config) { c.Retry.InitBackoff = 0 },
			wantErr:   config.ErrInvalidRetryInitBackoff,
		},
		{
			name: "max_backoff_below_initial",
			configMod: func(c *config.Config) {
				c.Retry.InitBackoff = time.Second
				c.Retry.MaxBackoff = time.Millisecond
			},
			wantErr: config.ErrRetryMaxBackoffTooSmall,
		},
		{
			name: "negative_fraud_threshold",
			configMod: func(c *config.Config) {
				c.FraudRejectThreshold = decimal.NewFromInt(-1)
			},
			wantErr: config.ErrInvalidFraudThreshold,
		},
		{
			name:      "zero_hard_cap",
			configMod: func(c *config.Config) { c.PaymentHardCap = decimal.Zero },
			wantErr:   config.ErrInvalidPaymentHardCap,
		},
		{
			name:      "blank_rule",
			configMod: func(c *config.Config) { c.FraudRejectRule = "  " },
			wantErr:   config.ErrFraudRuleRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.configMod(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CLAIM_STORE_URL", "http://claims:8081")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ARCHIVE_URL", "mem://")
	t.Setenv("STEP_TIMEOUT", "3s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_INITIAL_BACKOFF", "50ms")
	t.Setenv("RETRY_MAX_BACKOFF", "1s")
	t.Setenv("FRAUD_REJECT_THRESHOLD", "2500.50")
	t.Setenv("PAYMENT_HARD_CAP", "7500")
	t.Setenv("MANUAL_REVIEW_MEDIUM_RISK", "true")
	t.Setenv("PRUNE_INTERVAL", "1m")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9090", cfg.APIAddr())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://claims:8081", cfg.ClaimStoreURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "mem://", cfg.ArchiveURL)
	assert.Equal(t, 3*time.Second, cfg.StepTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitBackoff)
	assert.Equal(t, time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, "2500.5", cfg.FraudRejectThreshold.String())
	assert.True(t, decimal.NewFromInt(7500).Equal(cfg.PaymentHardCap))
	assert.True(t, cfg.ManualReviewMediumRisk)
	assert.Equal(t, time.Minute, cfg.PruneInterval)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := map[string]string{
		"API_PORT":                  "70000",
		"REDIS_DB":                  "x",
		"RETRY_MAX_ATTEMPTS":        "0",
		"STEP_TIMEOUT":              "soon",
		"RETRY_MAX_BACKOFF":         "-1s",
		"FRAUD_REJECT_THRESHOLD":    "lots",
		"MANUAL_REVIEW_MEDIUM_RISK": "maybe",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := config.NewDefaultConfig()
			err := cfg.LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("PAYMENT_HARD_CAP", "")
		cfg, err := config.Load()
		require.NoError(t, err)
		assert.True(t, cfg.PaymentHardCap.IsPositive())
	})

	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "negative hard cap",
			env:     map[string]string{"PAYMENT_HARD_CAP": "-1"},
			wantErr: config.ErrInvalidPaymentHardCap,
		},
		{
			name:    "zero hard cap",
			env:     map[string]string{"PAYMENT_HARD_CAP": "0"},
			wantErr: config.ErrInvalidPaymentHardCap,
		},
		{
			name:    "negative fraud threshold",
			env:     map[string]string{"FRAUD_REJECT_THRESHOLD": "-100"},
			wantErr: config.ErrInvalidFraudThreshold,
		},
		{
			name: "max backoff below initial",
			env: map[string]string{
				"RETRY_INITIAL_BACKOFF": "2s",
				"RETRY_MAX_BACKOFF":     "1s",
			},
			wantErr: config.ErrRetryMaxBackoffTooSmall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := config.Load()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, cfg)
		})
	}
}
