package workflow

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults
const (
	DefaultMaxAttempts = 3
	DefaultInitBackoff = 200 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
	DefaultStepTimeout = 10 * time.Second

	DefaultFraudRejectRule = `risk == "HIGH" && amountOverThreshold`
)

type (
	// Thresholds are the monetary limits applied by the claim graph
	Thresholds struct {
		FraudHighRiskRejectThreshold decimal.Decimal
		PaymentHardCap               decimal.Decimal
	}

	// Option configures a ClaimEngine
	Option func(*settings)

	settings struct {
		retry        RetryPolicy
		thresholds   Thresholds
		fraudRule    string
		manualReview bool
		logger       *slog.Logger
		archiver     Archiver
		graph        *Graph
	}
)

// DefaultThresholds returns a fraud reject threshold of 3000 and a payment
// hard cap of 10000
func DefaultThresholds() Thresholds {
	return Thresholds{
		FraudHighRiskRejectThreshold: decimal.NewFromInt(3000),
		PaymentHardCap:               decimal.NewFromInt(10000),
	}
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		InitBackoff: DefaultInitBackoff,
		MaxBackoff:  DefaultMaxBackoff,
		Timeout:     DefaultStepTimeout,
	}
}

func defaultSettings() settings {
	return settings{
		retry:      DefaultRetryPolicy(),
		thresholds: DefaultThresholds(),
		fraudRule:  DefaultFraudRejectRule,
		logger:     slog.Default(),
	}
}

// WithRetryPolicy sets timeout and retry behavior of automated steps.
// Zero fields keep their defaults
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *settings) {
		if p.MaxAttempts > 0 {
			s.retry.MaxAttempts = p.MaxAttempts
		}
		if p.InitBackoff > 0 {
			s.retry.InitBackoff = p.InitBackoff
		}
		if p.MaxBackoff > 0 {
			s.retry.MaxBackoff = p.MaxBackoff
		}
		if p.Timeout > 0 {
			s.retry.Timeout = p.Timeout
		}
	}
}

// WithThresholds sets the fraud reject threshold and the payment hard cap
func WithThresholds(t Thresholds) Option {
	return func(s *settings) {
		s.thresholds = t
	}
}

// WithFraudRule replaces the expression deciding a fraud rejection. The
// expression sees risk, score, amount, threshold, claimType, policyNumber
// and amountOverThreshold
func WithFraudRule(expression string) Option {
	return func(s *settings) {
		if expression != "" {
			s.fraudRule = expression
		}
	}
}

// WithManualReview parks MEDIUM fraud risk claims on a review task
func WithManualReview(enabled bool) Option {
	return func(s *settings) {
		s.manualReview = enabled
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchiver writes the snapshot of every terminated instance through a.
func WithArchiver(a Archiver) Option {
	return func(s *settings) {
		s.archiver = a
	}
}

// WithGraph replaces the claim graph
func WithGraph(g *Graph) Option {
	return func(s *settings) {
		s.graph = g
	}
}
