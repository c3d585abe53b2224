package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/rules"
	"github.com/songzhibin97/claimflow/types"
)

// Rejection reasons produced by the claim graph
const (
	ReasonIdentityFailed       = "IDENTITY_VERIFICATION_FAILED"
	ReasonNotCovered           = "NOT_COVERED"
	ReasonFraudSuspected       = "FRAUD_SUSPECTED"
	ReasonPaymentFailed        = "PAYMENT_FAILED"
	ReasonManualReviewRejected = "MANUAL_REVIEW_REJECTED"
	ReasonExceedsHardCap       = "EXCEEDS_PAYMENT_HARD_CAP"
)

// ManualReviewTaskName names the task created for MEDIUM risk claims
const ManualReviewTaskName = "Review medium fraud risk"

type (
	claimSteps struct {
		collab       clients.Set
		thresholds   Thresholds
		fraud        *fraudRule
		manualReview bool
	}

	fraudRule struct {
		eval       *rules.ExprEvaluator
		expression string
		threshold  decimal.Decimal
	}
)

// NewClaimGraph builds the claim adjudication graph over collab
func NewClaimGraph(
	collab clients.Set, t Thresholds, rule string, manualReview bool,
) (*Graph, error) {
	if err := collab.Validate(); err != nil {
		return nil, err
	}
	fraud, err := newFraudRule(rule, t.FraudHighRiskRejectThreshold)
	if err != nil {
		return nil, err
	}
	cs := &claimSteps{
		collab:       collab,
		thresholds:   t,
		fraud:        fraud,
		manualReview: manualReview,
	}

	steps := []Step{
		{
			ID:      StepSubmitClaim,
			Handler: cs.submitClaim,
			Route:   Always(StepVerifyIdentity),
		},
		{
			ID:      StepVerifyIdentity,
			Handler: cs.verifyIdentity,
			Retry:   true,
			Route:   routeIdentity,
		},
		{
			ID:      StepPolicyCheck,
			Handler: cs.policyCheck,
			Retry:   true,
			Route:   routeCoverage,
		},
		{
			ID:      StepFraudCheck,
			Handler: cs.fraudCheck,
			Retry:   true,
			Route:   cs.routeFraud,
		},
		{
			ID:      StepCompensation,
			Handler: compensation,
			Route:   Always(StepPayment),
		},
		{
			ID:      StepPayment,
			Handler: cs.payment,
			Retry:   true,
			Route:   routePayment,
		},
		{
			ID:      StepUpdateStatus,
			Handler: cs.updateStatus,
			Retry:   true,
			Final:   true,
		},
	}
	if manualReview {
		steps = append(steps, Step{
			ID:    StepManualReview,
			Kind:  StepManual,
			Name:  ManualReviewTaskName,
			Route: routeManualReview,
		})
	}
	return NewGraph(StepSubmitClaim, steps...)
}

func (cs *claimSteps) submitClaim(ctx context.Context, in Input) (Result, error) {
	c := in.Context
	if c.ClaimID != "" {
		rec, err := cs.collab.Claims.GetClaim(ctx, c.ClaimID)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Summary: fmt.Sprintf("adopted claim %s in status %s", rec.ID, rec.Status),
		}, nil
	}

	rec, err := cs.collab.Claims.CreateClaim(ctx, clients.NewClaim{
		CustomerID:    c.CustomerID,
		FullName:      c.FullName,
		PolicyNumber:  c.PolicyNumber,
		ClaimType:     c.ClaimType,
		ClaimedAmount: c.ClaimedAmount,
		Description:   c.Description,
	})
	if err != nil {
		return Result{}, err
	}
	if rec.ID == "" {
		return Result{}, fmt.Errorf("%w: created claim has no id", ErrClaimStoreInconsistency)
	}
	return Result{
		Fields:  types.Fields{ClaimID: rec.ID},
		Summary: "created claim " + rec.ID,
	}, nil
}

func (cs *claimSteps) verifyIdentity(ctx context.Context, in Input) (Result, error) {
	c := in.Context
	res, err := cs.collab.Identity.Verify(ctx, clients.IdentityRequest{
		CustomerID:   c.CustomerID,
		FullName:     c.FullName,
		PolicyNumber: c.PolicyNumber,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Fields:  types.Fields{IdentityOK: types.Ptr(res.Verified)},
		Summary: fmt.Sprintf("verified=%t reason=%s", res.Verified, res.Reason),
	}, nil
}

func routeIdentity(c types.ClaimContext) (Route, error) {
	if c.IdentityOK != nil && *c.IdentityOK {
		return Goto(StepPolicyCheck), nil
	}
	return Reject(ReasonIdentityFailed), nil
}

func (cs *claimSteps) policyCheck(ctx context.Context, in Input) (Result, error) {
	c := in.Context
	res, err := cs.collab.Policy.CheckCoverage(ctx, clients.CoverageRequest{
		PolicyNumber: c.PolicyNumber,
		ClaimType:    c.ClaimType,
		Amount:       c.ClaimedAmount,
	})
	if err != nil {
		return Result{}, err
	}
	maxPayable := res.MaxPayable
	if maxPayable.IsNegative() {
		maxPayable = decimal.Zero
	}
	return Result{
		Fields: types.Fields{
			Covered:     types.Ptr(res.Covered),
			CoverReason: types.Ptr(res.Reason),
			MaxPayable:  types.Ptr(maxPayable),
		},
		Summary: fmt.Sprintf("covered=%t reason=%s maxPayable=%s",
			res.Covered, res.Reason, maxPayable.StringFixed(2)),
	}, nil
}

func routeCoverage(c types.ClaimContext) (Route, error) {
	if c.Covered != nil && *c.Covered {
		return Goto(StepFraudCheck), nil
	}
	if c.CoverReason != nil && *c.CoverReason != "" {
		return Reject(*c.CoverReason), nil
	}
	return Reject(ReasonNotCovered), nil
}

func (cs *claimSteps) fraudCheck(ctx context.Context, in Input) (Result, error) {
	c := in.Context
	res, err := cs.collab.Fraud.Assess(ctx, clients.FraudRequest{
		ClaimID:      c.ClaimID,
		PolicyNumber: c.PolicyNumber,
		ClaimType:    c.ClaimType,
		Amount:       c.ClaimedAmount,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Fields: types.Fields{
			FraudRisk:        types.Ptr(res.Risk),
			FraudScore:       types.Ptr(res.Score),
			FraudExplanation: types.Ptr(res.Explanation),
		},
		Summary: fmt.Sprintf("risk=%s score=%.2f", res.Risk, res.Score),
	}, nil
}

func (cs *claimSteps) routeFraud(c types.ClaimContext) (Route, error) {
	reject, err := cs.fraud.reject(c)
	if err != nil {
		return Route{}, err
	}
	switch {
	case reject:
		return Reject(ReasonFraudSuspected), nil
	case cs.manualReview && c.FraudRisk != nil && *c.FraudRisk == types.RiskMedium:
		return Goto(StepManualReview), nil
	default:
		return Goto(StepCompensation), nil
	}
}

func routeManualReview(c types.ClaimContext) (Route, error) {
	if approved, ok := c.Variables["approved"].(bool); ok && approved {
		return Goto(StepCompensation), nil
	}
	return Reject(ReasonManualReviewRejected), nil
}

// PayableAmount is min(claimed, maxPayable), never negative. An unknown
// maxPayable pays nothing.
func PayableAmount(claimed decimal.Decimal, maxPayable *decimal.Decimal) decimal.Decimal {
	if maxPayable == nil {
		return decimal.Zero
	}
	p := decimal.Min(claimed, *maxPayable)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

func compensation(_ context.Context, in Input) (Result, error) {
	p := PayableAmount(in.Context.ClaimedAmount, in.Context.MaxPayable)
	return Result{
		Fields:  types.Fields{PayableAmount: types.Ptr(p)},
		Summary: "payableAmount=" + p.StringFixed(2),
	}, nil
}

func (cs *claimSteps) payment(ctx context.Context, in Input) (Result, error) {
	c := in.Context
	if c.PayableAmount == nil {
		return Result{}, fmt.Errorf("payment reached without payable amount")
	}
	amount := *c.PayableAmount
	if amount.GreaterThan(cs.thresholds.PaymentHardCap) {
		return Result{
			Fields: types.Fields{PaymentOK: types.Ptr(false)},
			Summary: fmt.Sprintf("ok=false reason=%s cap=%s",
				ReasonExceedsHardCap, cs.thresholds.PaymentHardCap.StringFixed(2)),
		}, nil
	}

	res, err := cs.collab.Payments.Pay(ctx, clients.PaymentRequest{
		ClaimID: c.ClaimID,
		Amount:  amount,
	})
	if err != nil {
		return Result{}, err
	}
	f := types.Fields{PaymentOK: types.Ptr(res.OK)}
	if res.Reference != "" {
		f.PaymentReference = types.Ptr(res.Reference)
	}
	return Result{
		Fields:  f,
		Summary: fmt.Sprintf("ok=%t reference=%s reason=%s", res.OK, res.Reference, res.Reason),
	}, nil
}

func routePayment(c types.ClaimContext) (Route, error) {
	if c.PaymentOK == nil || !*c.PaymentOK {
		return Reject(ReasonPaymentFailed), nil
	}
	return Approve(ApprovalMessage(*c.PayableAmount)), nil
}

// ApprovalMessage is the status message pushed for an approved claim
func ApprovalMessage(payable decimal.Decimal) string {
	return "Approved payable amount " + payable.StringFixed(2)
}

func (cs *claimSteps) updateStatus(ctx context.Context, in Input) (Result, error) {
	if in.Decision == nil {
		return Result{}, fmt.Errorf("status update reached without a decision")
	}
	if in.Context.ClaimID == "" {
		return Result{}, fmt.Errorf("%w: no claim bound", ErrClaimStoreInconsistency)
	}
	err := cs.collab.Claims.PushStatus(
		ctx, in.Context.ClaimID, in.Decision.Status, in.Decision.Message,
	)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Summary: fmt.Sprintf("pushed %s: %s", in.Decision.Status, in.Decision.Message),
	}, nil
}

func newFraudRule(expression string, threshold decimal.Decimal) (*fraudRule, error) {
	eval := rules.NewExprEvaluator()
	eval.AddDerived("amountOverThreshold", func(env map[string]interface{}) interface{} {
		amount, _ := env["amount"].(decimal.Decimal)
		limit, _ := env["threshold"].(decimal.Decimal)
		return amount.GreaterThan(limit)
	})
	r := &fraudRule{
		eval:       eval,
		expression: expression,
		threshold:  threshold,
	}
	if err := eval.Compile(expression, r.env(types.ClaimContext{})); err != nil {
		return nil, fmt.Errorf("invalid fraud rule %q: %w", expression, err)
	}
	return r, nil
}

func (r *fraudRule) env(c types.ClaimContext) map[string]interface{} {
	risk, score := "", 0.0
	if c.FraudRisk != nil {
		risk = *c.FraudRisk
	}
	if c.FraudScore != nil {
		score = *c.FraudScore
	}
	return map[string]interface{}{
		"risk":         risk,
		"score":        score,
		"amount":       c.ClaimedAmount,
		"threshold":    r.threshold,
		"claimType":    c.ClaimType,
		"policyNumber": c.PolicyNumber,
	}
}

func (r *fraudRule) reject(c types.ClaimContext) (bool, error) {
	return r.eval.Evaluate(r.expression, r.env(c))
}
