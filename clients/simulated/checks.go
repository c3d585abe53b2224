// Package simulated provides deterministic in-process collaborators for demos
// and local runs.
package simulated

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/types"
)

type (
	// Identity fails any policy number ending in "0".
	Identity struct{}

	// Policy answers coverage questions from a fixed policy table.
	Policy struct {
		policies map[string]PolicyTerms
	}

	// PolicyTerms describes one policy of the table.
	PolicyTerms struct {
		Number        string
		Valid         bool
		Holder        string
		CoverageLimit decimal.Decimal
		ClaimTypes    []string
	}

	// Fraud scores claims by amount, type and policy number pattern.
	Fraud struct{}

	// Payments settles every payout with a fresh reference.
	Payments struct{}
)

// Coverage reasons
const (
	ReasonCovered             = "COVERED"
	ReasonPolicyInvalid       = "POLICY_INVALID"
	ReasonClaimTypeNotCovered = "CLAIM_TYPE_NOT_COVERED"
	ReasonLimitExceeded       = "LIMIT_EXCEEDED"
)

var (
	scoreBase       = decimal.RequireFromString("0.15")
	scoreOver3000   = decimal.RequireFromString("0.35")
	scoreOver8000   = decimal.RequireFromString("0.30")
	scoreTheft      = decimal.RequireFromString("0.25")
	scorePolicySix  = decimal.RequireFromString("0.20")
	scoreHighRisk   = decimal.RequireFromString("0.75")
	scoreMediumRisk = decimal.RequireFromString("0.40")

	amount3000 = decimal.NewFromInt(3000)
	amount8000 = decimal.NewFromInt(8000)
)

var (
	_ clients.IdentityVerifier = Identity{}
	_ clients.PolicyChecker    = (*Policy)(nil)
	_ clients.FraudAssessor    = Fraud{}
	_ clients.Payments         = Payments{}
)

// Verify implements clients.IdentityVerifier
func (Identity) Verify(
	ctx context.Context, req clients.IdentityRequest,
) (clients.IdentityResult, error) {
	if err := ctx.Err(); err != nil {
		return clients.IdentityResult{}, err
	}
	p := strings.TrimSpace(req.PolicyNumber)
	if p == "" || strings.HasSuffix(p, "0") {
		return clients.IdentityResult{
			Reason: "IDENTITY_VERIFICATION_FAILED",
		}, nil
	}
	return clients.IdentityResult{
		Verified: true,
		Reason:   "IDENTITY_VERIFIED",
	}, nil
}

// DefaultPolicies returns the demo policy table
func DefaultPolicies() []PolicyTerms {
	return []PolicyTerms{
		{
			Number:        "P-1001",
			Valid:         true,
			Holder:        "John Doe",
			CoverageLimit: decimal.NewFromInt(5000),
			ClaimTypes:    []string{"ACCIDENT", "FIRE", "HEALTH", "THEFT", "OTHER"},
		},
		{
			Number:        "P-1006",
			Valid:         true,
			Holder:        "John Doe",
			CoverageLimit: decimal.NewFromInt(5000),
			ClaimTypes:    []string{"ACCIDENT", "FIRE", "HEALTH", "OTHER"},
		},
		{
			Number:        "P-1999",
			Valid:         true,
			Holder:        "Jane Smith",
			CoverageLimit: decimal.NewFromInt(500),
			ClaimTypes:    []string{"ACCIDENT", "FIRE"},
		},
		{
			Number: "P-0000",
			Holder: "Unknown",
		},
	}
}

// NewPolicy builds a policy checker over the given terms, or the demo table
// when none are given
func NewPolicy(terms ...PolicyTerms) *Policy {
	if len(terms) == 0 {
		terms = DefaultPolicies()
	}
	p := &Policy{policies: make(map[string]PolicyTerms, len(terms))}
	for _, t := range terms {
		p.policies[NormalizePolicyNumber(t.Number)] = t
	}
	return p
}

// NormalizePolicyNumber upper-cases a policy number and maps the legacy
// "POL-" prefix to "P-"
func NormalizePolicyNumber(n string) string {
	p := strings.ToUpper(strings.TrimSpace(n))
	if strings.HasPrefix(p, "POL-") {
		p = "P-" + p[len("POL-"):]
	}
	return p
}

// CheckCoverage implements clients.PolicyChecker
func (p *Policy) CheckCoverage(
	ctx context.Context, req clients.CoverageRequest,
) (clients.CoverageResult, error) {
	if err := ctx.Err(); err != nil {
		return clients.CoverageResult{}, err
	}

	terms, ok := p.policies[NormalizePolicyNumber(req.PolicyNumber)]
	if !ok || !terms.Valid {
		return clients.CoverageResult{
			Reason:     ReasonPolicyInvalid,
			MaxPayable: decimal.Zero,
		}, nil
	}

	ct := strings.ToUpper(strings.TrimSpace(req.ClaimType))
	if !contains(terms.ClaimTypes, ct) {
		return clients.CoverageResult{
			Reason:     ReasonClaimTypeNotCovered,
			MaxPayable: decimal.Zero,
		}, nil
	}

	covered := req.Amount.LessThanOrEqual(terms.CoverageLimit)
	res := clients.CoverageResult{
		Covered:    covered,
		Reason:     ReasonLimitExceeded,
		MaxPayable: decimal.Min(req.Amount, terms.CoverageLimit),
	}
	if covered {
		res.Reason = ReasonCovered
	}
	return res, nil
}

// Assess implements clients.FraudAssessor
func (Fraud) Assess(
	ctx context.Context, req clients.FraudRequest,
) (clients.FraudResult, error) {
	if err := ctx.Err(); err != nil {
		return clients.FraudResult{}, err
	}

	score := scoreBase
	if req.Amount.GreaterThan(amount3000) {
		score = score.Add(scoreOver3000)
	}
	if req.Amount.GreaterThan(amount8000) {
		score = score.Add(scoreOver8000)
	}
	if strings.EqualFold(strings.TrimSpace(req.ClaimType), "THEFT") {
		score = score.Add(scoreTheft)
	}
	if strings.HasSuffix(strings.TrimSpace(req.PolicyNumber), "6") {
		score = score.Add(scorePolicySix)
	}
	if score.GreaterThan(decimal.NewFromInt(1)) {
		score = decimal.NewFromInt(1)
	}

	risk := types.RiskLow
	switch {
	case score.GreaterThanOrEqual(scoreHighRisk):
		risk = types.RiskHigh
	case score.GreaterThanOrEqual(scoreMediumRisk):
		risk = types.RiskMedium
	}

	return clients.FraudResult{
		Risk:        risk,
		Score:       score.InexactFloat64(),
		Explanation: "Simulated fraud scoring based on amount/type/policy pattern",
	}, nil
}

// Pay implements clients.Payments
func (Payments) Pay(
	ctx context.Context, req clients.PaymentRequest,
) (clients.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return clients.PaymentResult{}, err
	}
	if !req.Amount.IsPositive() {
		return clients.PaymentResult{Reason: "NOTHING_TO_PAY"}, nil
	}
	return clients.PaymentResult{
		OK:        true,
		Reference: "PAY-" + uuid.NewString(),
	}, nil
}

// NewSet returns a complete collaborator set backed by the simulations and
// the given claim store
func NewSet(claims clients.ClaimStore) clients.Set {
	return clients.Set{
		Claims:   claims,
		Identity: Identity{},
		Policy:   NewPolicy(),
		Fraud:    Fraud{},
		Payments: Payments{},
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
