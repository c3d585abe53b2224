package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ClaimStatus is the status of a claim record in the claim store.
type ClaimStatus string

// Claim record statuses
const (
	ClaimSubmitted ClaimStatus = "SUBMITTED"
	ClaimInReview  ClaimStatus = "IN_REVIEW"
	ClaimApproved  ClaimStatus = "APPROVED"
	ClaimRejected  ClaimStatus = "REJECTED"
	ClaimPaid      ClaimStatus = "PAID"
)

// Fraud risk levels
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Submission is the caller input that starts a claim adjudication.
type Submission struct {
	// ClaimID adopts an existing claim record instead of creating a new one.
	ClaimID       string          `json:"claim_id,omitempty"`
	CustomerID    string          `json:"customer_id"`
	FullName      string          `json:"full_name"`
	PolicyNumber  string          `json:"policy_number"`
	ClaimType     string          `json:"claim_type"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Description   string          `json:"description,omitempty"`
}

// Fields holds the values produced by steps. A nil pointer means unset.
type Fields struct {
	ClaimID          string           `json:"claim_id,omitempty"`
	IdentityOK       *bool            `json:"identity_ok,omitempty"`
	Covered          *bool            `json:"covered,omitempty"`
	CoverReason      *string          `json:"cover_reason,omitempty"`
	MaxPayable       *decimal.Decimal `json:"max_payable,omitempty"`
	FraudRisk        *string          `json:"fraud_risk,omitempty"`
	FraudScore       *float64         `json:"fraud_score,omitempty"`
	FraudExplanation *string          `json:"fraud_explanation,omitempty"`
	PayableAmount    *decimal.Decimal `json:"payable_amount,omitempty"`
	PaymentOK        *bool            `json:"payment_ok,omitempty"`
	PaymentReference *string          `json:"payment_reference,omitempty"`
}

// ClaimContext is the variable bag of a single process instance. Fields are
// write-once: steps add values, they never replace them.
type ClaimContext struct {
	CustomerID    string          `json:"customer_id"`
	FullName      string          `json:"full_name"`
	PolicyNumber  string          `json:"policy_number"`
	ClaimType     string          `json:"claim_type"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Description   string          `json:"description,omitempty"`

	Fields

	Variables map[string]interface{} `json:"variables,omitempty"`
}

// NewClaimContext seeds a context from a submission.
func NewClaimContext(s Submission) ClaimContext {
	return ClaimContext{
		CustomerID:    strings.TrimSpace(s.CustomerID),
		FullName:      strings.TrimSpace(s.FullName),
		PolicyNumber:  strings.TrimSpace(s.PolicyNumber),
		ClaimType:     strings.ToUpper(strings.TrimSpace(s.ClaimType)),
		ClaimedAmount: s.ClaimedAmount,
		Description:   s.Description,
	}
}

// Apply merges produced fields into the context. Nothing is written if any
// incoming field is already set.
func (c *ClaimContext) Apply(f Fields) error {
	var taken []string
	check := func(name string, set, incoming bool) {
		if set && incoming {
			taken = append(taken, name)
		}
	}
	check("claim_id", c.ClaimID != "", f.ClaimID != "")
	check("identity_ok", c.IdentityOK != nil, f.IdentityOK != nil)
	check("covered", c.Covered != nil, f.Covered != nil)
	check("cover_reason", c.CoverReason != nil, f.CoverReason != nil)
	check("max_payable", c.MaxPayable != nil, f.MaxPayable != nil)
	check("fraud_risk", c.FraudRisk != nil, f.FraudRisk != nil)
	check("fraud_score", c.FraudScore != nil, f.FraudScore != nil)
	check("fraud_explanation", c.FraudExplanation != nil, f.FraudExplanation != nil)
	check("payable_amount", c.PayableAmount != nil, f.PayableAmount != nil)
	check("payment_ok", c.PaymentOK != nil, f.PaymentOK != nil)
	check("payment_reference", c.PaymentReference != nil, f.PaymentReference != nil)
	if len(taken) > 0 {
		return fmt.Errorf("%w: %s", ErrFieldAlreadySet, strings.Join(taken, ", "))
	}

	if f.ClaimID != "" {
		c.ClaimID = f.ClaimID
	}
	c.IdentityOK = firstSet(c.IdentityOK, f.IdentityOK)
	c.Covered = firstSet(c.Covered, f.Covered)
	c.CoverReason = firstSet(c.CoverReason, f.CoverReason)
	c.MaxPayable = firstSet(c.MaxPayable, f.MaxPayable)
	c.FraudRisk = firstSet(c.FraudRisk, f.FraudRisk)
	c.FraudScore = firstSet(c.FraudScore, f.FraudScore)
	c.FraudExplanation = firstSet(c.FraudExplanation, f.FraudExplanation)
	c.PayableAmount = firstSet(c.PayableAmount, f.PayableAmount)
	c.PaymentOK = firstSet(c.PaymentOK, f.PaymentOK)
	c.PaymentReference = firstSet(c.PaymentReference, f.PaymentReference)
	return nil
}

// SetVariables merges caller-supplied variables. Existing keys are never
// replaced; the whole merge is refused if one collides.
func (c *ClaimContext) SetVariables(vars map[string]interface{}) error {
	var taken []string
	for k := range vars {
		if _, ok := c.Variables[k]; ok {
			taken = append(taken, k)
		}
	}
	if len(taken) > 0 {
		sort.Strings(taken)
		return fmt.Errorf("%w: %s", ErrFieldAlreadySet, strings.Join(taken, ", "))
	}
	if len(vars) == 0 {
		return nil
	}
	if c.Variables == nil {
		c.Variables = make(map[string]interface{}, len(vars))
	}
	for k, v := range vars {
		c.Variables[k] = v
	}
	return nil
}

// Clone returns a deep copy of the context.
func (c ClaimContext) Clone() ClaimContext {
	res := c
	res.IdentityOK = clonePtr(c.IdentityOK)
	res.Covered = clonePtr(c.Covered)
	res.CoverReason = clonePtr(c.CoverReason)
	res.MaxPayable = clonePtr(c.MaxPayable)
	res.FraudRisk = clonePtr(c.FraudRisk)
	res.FraudScore = clonePtr(c.FraudScore)
	res.FraudExplanation = clonePtr(c.FraudExplanation)
	res.PayableAmount = clonePtr(c.PayableAmount)
	res.PaymentOK = clonePtr(c.PaymentOK)
	res.PaymentReference = clonePtr(c.PaymentReference)
	if c.Variables != nil {
		res.Variables = make(map[string]interface{}, len(c.Variables))
		for k, v := range c.Variables {
			res.Variables[k] = v
		}
	}
	return res
}

// HistoryEvent is one append-only entry of a claim record's history.
type HistoryEvent struct {
	Timestamp int64       `json:"timestamp"`
	Status    ClaimStatus `json:"status"`
	Message   string      `json:"message"`
}

// ClaimRecord is the claim document owned by the claim store.
type ClaimRecord struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	FullName      string          `json:"full_name"`
	PolicyNumber  string          `json:"policy_number"`
	ClaimType     string          `json:"claim_type"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Description   string          `json:"description,omitempty"`
	Status        ClaimStatus     `json:"status"`
	CreatedAt     int64           `json:"created_at"`
	History       []HistoryEvent  `json:"history,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func firstSet[T any](cur, incoming *T) *T {
	if cur != nil {
		return cur
	}
	return clonePtr(incoming)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
