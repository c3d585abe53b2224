package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Config holds configuration settings for the claim orchestrator
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Collaborators & Stores
		ClaimStoreURL string
		Redis         RedisConfig
		ArchiveURL    string
		ArchivePrefix string

		// Step execution
		StepTimeout time.Duration
		Retry       RetryConfig

		// Adjudication
		FraudRejectThreshold   decimal.Decimal
		PaymentHardCap         decimal.Decimal
		FraudRejectRule        string
		ManualReviewMediumRisk bool

		// Engine
		PruneInterval   time.Duration
		ShutdownTimeout time.Duration
	}

	// RedisConfig locates the shared instance store. An empty Addr selects
	// the in-process memory store
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}

	// RetryConfig bounds retries of transient step failures
	RetryConfig struct {
		MaxAttempts int
		InitBackoff time.Duration
		MaxBackoff  time.Duration
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	MaxRedisDB     = 15

	DefaultRedisPrefix   = "claimflow:"
	DefaultArchivePrefix = "claims"

	DefaultStepTimeout       = 10 * time.Second
	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitBackoff  = 200 * time.Millisecond
	DefaultRetryMaxBackoff   = 5 * time.Second
	DefaultPruneInterval     = 10 * time.Minute
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultFraudRejectRule   = `risk == "HIGH" && amountOverThreshold`
	MaxRetryMaxAttempts      = 100
	MaxStepTimeout           = time.Hour
	DefaultFraudThresholdStr = "3000"
	DefaultPaymentHardCapStr = "10000"
)

var (
	ErrInvalidAPIPort          = errors.New("invalid API port")
	ErrInvalidStepTimeout      = errors.New("step timeout must be positive")
	ErrInvalidRetryMaxAttempts = errors.New(
		"retry max attempts must be positive",
	)
	ErrInvalidRetryInitBackoff = errors.New(
		"retry initial backoff must be positive",
	)
	ErrRetryMaxBackoffTooSmall = errors.New(
		"retry max backoff must be >= retry initial backoff",
	)
	ErrInvalidFraudThreshold = errors.New(
		"fraud reject threshold cannot be negative",
	)
	ErrInvalidPaymentHardCap = errors.New("payment hard cap must be positive")
	ErrFraudRuleRequired     = errors.New("fraud reject rule is required")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// engine, its collaborators, and retry behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:  DefaultAPIHost,
		APIPort:  DefaultAPIPort,
		LogLevel: "info",
		Redis: RedisConfig{
			Prefix: DefaultRedisPrefix,
		},
		ArchivePrefix: DefaultArchivePrefix,
		StepTimeout:   DefaultStepTimeout,
		Retry: RetryConfig{
			MaxAttempts: DefaultRetryMaxAttempts,
			InitBackoff: DefaultRetryInitBackoff,
			MaxBackoff:  DefaultRetryMaxBackoff,
		},
		FraudRejectThreshold: decimal.RequireFromString(DefaultFraudThresholdStr),
		PaymentHardCap:       decimal.RequireFromString(DefaultPaymentHardCapStr),
		FraudRejectRule:      DefaultFraudRejectRule,
		PruneInterval:        DefaultPruneInterval,
		ShutdownTimeout:      DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if url := os.Getenv("CLAIM_STORE_URL"); url != "" {
		c.ClaimStoreURL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}
	if url := os.Getenv("ARCHIVE_URL"); url != "" {
		c.ArchiveURL = url
	}
	if prefix := os.Getenv("ARCHIVE_PREFIX"); prefix != "" {
		c.ArchivePrefix = prefix
	}
	if rule := os.Getenv("FRAUD_REJECT_RULE"); rule != "" {
		c.FraudRejectRule = rule
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.Redis.DB, -1, MaxRedisDB); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts, 0, MaxRetryMaxAttempts,
	); err != nil {
		return err
	}

	for key, dst := range map[string]*time.Duration{
		"STEP_TIMEOUT":          &c.StepTimeout,
		"RETRY_INITIAL_BACKOFF": &c.Retry.InitBackoff,
		"RETRY_MAX_BACKOFF":     &c.Retry.MaxBackoff,
		"PRUNE_INTERVAL":        &c.PruneInterval,
		"SHUTDOWN_TIMEOUT":      &c.ShutdownTimeout,
	} {
		if err := loadEnvDuration(key, dst); err != nil {
			return err
		}
	}

	if err := loadEnvDecimal(
		"FRAUD_REJECT_THRESHOLD", &c.FraudRejectThreshold,
	); err != nil {
		return err
	}
	if err := loadEnvDecimal("PAYMENT_HARD_CAP", &c.PaymentHardCap); err != nil {
		return err
	}

	if s := os.Getenv("MANUAL_REVIEW_MEDIUM_RISK"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid MANUAL_REVIEW_MEDIUM_RISK: %q", s)
		}
		c.ManualReviewMediumRisk = v
	}

	return nil
}

// Load builds the default configuration, applies the environment over it
// and validates the result
func Load() (*Config, error) {
	c := NewDefaultConfig()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.StepTimeout <= 0 || c.StepTimeout > MaxStepTimeout {
		return ErrInvalidStepTimeout
	}

	if c.Retry.MaxAttempts <= 0 {
		return ErrInvalidRetryMaxAttempts
	}

	if c.Retry.InitBackoff <= 0 {
		return ErrInvalidRetryInitBackoff
	}

	if c.Retry.MaxBackoff < c.Retry.InitBackoff {
		return ErrRetryMaxBackoffTooSmall
	}

	if c.FraudRejectThreshold.IsNegative() {
		return fmt.Errorf("%w: %s",
			ErrInvalidFraudThreshold, c.FraudRejectThreshold)
	}

	if !c.PaymentHardCap.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPaymentHardCap, c.PaymentHardCap)
	}

	if strings.TrimSpace(c.FraudRejectRule) == "" {
		return ErrFraudRuleRequired
	}

	return nil
}

// APIAddr returns the host:port the HTTP server listens on
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}

func loadEnvDecimal(key string, dst *decimal.Decimal) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}
