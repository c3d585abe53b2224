// Package clients defines the collaborator boundary of the claim orchestrator:
// the claim store and the identity, policy, fraud and payment services. Each
// is a request/response call with typed payloads; wire formats live in the
// implementing packages.
package clients

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/claimflow/types"
)

var (
	// ErrNotFound is returned when the referenced claim does not exist.
	ErrNotFound = errors.New("claim not found")
	// ErrUnavailable marks a transport or availability failure worth retrying.
	ErrUnavailable = errors.New("collaborator unavailable")
)

type (
	// NewClaim carries the submitter fields of a claim to be created.
	NewClaim struct {
		CustomerID    string          `json:"customer_id"`
		FullName      string          `json:"full_name"`
		PolicyNumber  string          `json:"policy_number"`
		ClaimType     string          `json:"claim_type"`
		ClaimedAmount decimal.Decimal `json:"claimed_amount"`
		Description   string          `json:"description,omitempty"`
	}

	// IdentityRequest asks whether a customer matches a policy holder.
	IdentityRequest struct {
		CustomerID   string
		FullName     string
		PolicyNumber string
	}

	// IdentityResult is the identity service verdict.
	IdentityResult struct {
		Verified bool
		Reason   string
	}

	// CoverageRequest asks whether a policy covers a claim.
	CoverageRequest struct {
		PolicyNumber string
		ClaimType    string
		Amount       decimal.Decimal
	}

	// CoverageResult is the policy service verdict.
	CoverageResult struct {
		Covered    bool
		Reason     string
		MaxPayable decimal.Decimal
	}

	// FraudRequest asks for a fraud-risk assessment of a claim.
	FraudRequest struct {
		ClaimID      string
		PolicyNumber string
		ClaimType    string
		Amount       decimal.Decimal
	}

	// FraudResult is the fraud service assessment. Score is in [0, 1].
	FraudResult struct {
		Risk        string
		Score       float64
		Explanation string
	}

	// PaymentRequest asks for a payout of a claim.
	PaymentRequest struct {
		ClaimID string
		Amount  decimal.Decimal
	}

	// PaymentResult is the payment service outcome.
	PaymentResult struct {
		OK        bool
		Reference string
		Reason    string
	}

	// ClaimStore owns claim records and their append-only history.
	ClaimStore interface {
		CreateClaim(ctx context.Context, c NewClaim) (types.ClaimRecord, error)
		PushStatus(ctx context.Context, id string, status types.ClaimStatus, message string) error
		GetClaim(ctx context.Context, id string) (types.ClaimRecord, error)
		GetHistory(ctx context.Context, id string) ([]types.HistoryEvent, error)
	}

	// IdentityVerifier checks a customer's identity against a policy.
	IdentityVerifier interface {
		Verify(ctx context.Context, req IdentityRequest) (IdentityResult, error)
	}

	// PolicyChecker checks coverage of a claim under a policy.
	PolicyChecker interface {
		CheckCoverage(ctx context.Context, req CoverageRequest) (CoverageResult, error)
	}

	// FraudAssessor scores the fraud risk of a claim.
	FraudAssessor interface {
		Assess(ctx context.Context, req FraudRequest) (FraudResult, error)
	}

	// Payments pays out approved claims.
	Payments interface {
		Pay(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	}

	// Set bundles the collaborators an engine is constructed with.
	Set struct {
		Claims   ClaimStore
		Identity IdentityVerifier
		Policy   PolicyChecker
		Fraud    FraudAssessor
		Payments Payments
	}
)

// Validate reports the first missing collaborator.
func (s Set) Validate() error {
	switch {
	case s.Claims == nil:
		return errors.New("claim store is required")
	case s.Identity == nil:
		return errors.New("identity verifier is required")
	case s.Policy == nil:
		return errors.New("policy checker is required")
	case s.Fraud == nil:
		return errors.New("fraud assessor is required")
	case s.Payments == nil:
		return errors.New("payments client is required")
	default:
		return nil
	}
}
