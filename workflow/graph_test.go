package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/claimflow/clients/simulated"
	"github.com/songzhibin97/claimflow/types"
)

func noop(context.Context, Input) (Result, error) {
	return Result{}, nil
}

func TestNewGraphValidation(t *testing.T) {
	final := Step{ID: StepUpdateStatus, Handler: noop, Final: true}

	tests := []struct {
		name    string
		start   types.StepID
		steps   []Step
		errPart string
	}{
		{
			name:    "missing id",
			start:   StepUpdateStatus,
			steps:   []Step{final, {Handler: noop, Route: Always(StepUpdateStatus)}},
			errPart: "step without id",
		},
		{
			name:    "duplicate",
			start:   StepUpdateStatus,
			steps:   []Step{final, final},
			errPart: "duplicate step",
		},
		{
			name:    "automated without handler",
			start:   StepSubmitClaim,
			steps:   []Step{{ID: StepSubmitClaim, Route: Always(StepUpdateStatus)}, final},
			errPart: "has no handler",
		},
		{
			name:    "manual without name",
			start:   StepManualReview,
			steps:   []Step{{ID: StepManualReview, Kind: StepManual, Route: Always(StepUpdateStatus)}, final},
			errPart: "has no name",
		},
		{
			name:    "manual final",
			start:   StepManualReview,
			steps:   []Step{{ID: StepManualReview, Kind: StepManual, Name: "review", Final: true}},
			errPart: "cannot be final",
		},
		{
			name:    "missing route",
			start:   StepSubmitClaim,
			steps:   []Step{{ID: StepSubmitClaim, Handler: noop}, final},
			errPart: "has no route",
		},
		{
			name:    "unknown start",
			start:   StepSubmitClaim,
			steps:   []Step{final},
			errPart: "start step",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(tc.start, tc.steps...)
			require.ErrorIs(t, err, ErrInvalidGraph)
			assert.Contains(t, err.Error(), tc.errPart)
		})
	}
}

func TestClaimGraph(t *testing.T) {
	collab := simulated.NewSet(simulated.NewClaimStore())

	g, err := NewClaimGraph(collab, DefaultThresholds(), DefaultFraudRejectRule, false)
	require.NoError(t, err)
	assert.Equal(t, StepSubmitClaim, g.Start())
	assert.NotContains(t, g.Steps(), StepManualReview)

	g, err = NewClaimGraph(collab, DefaultThresholds(), DefaultFraudRejectRule, true)
	require.NoError(t, err)
	review, ok := g.Step(StepManualReview)
	require.True(t, ok)
	assert.Equal(t, StepManual, review.Kind)
	assert.Equal(t, ManualReviewTaskName, review.Name)

	last, ok := g.Step(StepUpdateStatus)
	require.True(t, ok)
	assert.True(t, last.Final)

	_, err = NewClaimGraph(collab, DefaultThresholds(), `unknownVar > 1`, false)
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		r, err := routeIdentity(types.ClaimContext{Fields: types.Fields{IdentityOK: types.Ptr(true)}})
		require.NoError(t, err)
		assert.Equal(t, StepPolicyCheck, r.Next)
		assert.Nil(t, r.Decision)

		r, err = routeIdentity(types.ClaimContext{})
		require.NoError(t, err)
		assert.Equal(t, StepUpdateStatus, r.Next)
		assert.Equal(t, ReasonIdentityFailed, r.Decision.Message)
	})

	t.Run("coverage without reason", func(t *testing.T) {
		r, err := routeCoverage(types.ClaimContext{Fields: types.Fields{Covered: types.Ptr(false)}})
		require.NoError(t, err)
		assert.Equal(t, ReasonNotCovered, r.Decision.Message)
	})

	t.Run("manual review needs explicit approval", func(t *testing.T) {
		r, err := routeManualReview(types.ClaimContext{Variables: map[string]interface{}{"approved": "yes"}})
		require.NoError(t, err)
		assert.Equal(t, ReasonManualReviewRejected, r.Decision.Message)

		r, err = routeManualReview(types.ClaimContext{Variables: map[string]interface{}{"approved": true}})
		require.NoError(t, err)
		assert.Equal(t, StepCompensation, r.Next)
	})

	t.Run("fraud rule", func(t *testing.T) {
		cs := &claimSteps{manualReview: true}
		var err error
		cs.fraud, err = newFraudRule(DefaultFraudRejectRule, DefaultThresholds().FraudHighRiskRejectThreshold)
		require.NoError(t, err)

		c := types.NewClaimContext(submission("P-1", "FIRE", "3000.01"))
		c.FraudRisk = types.Ptr(types.RiskHigh)
		r, err := cs.routeFraud(c)
		require.NoError(t, err)
		assert.Equal(t, ReasonFraudSuspected, r.Decision.Message)

		c.FraudRisk = types.Ptr(types.RiskMedium)
		r, err = cs.routeFraud(c)
		require.NoError(t, err)
		assert.Equal(t, StepManualReview, r.Next)

		cs.manualReview = false
		r, err = cs.routeFraud(c)
		require.NoError(t, err)
		assert.Equal(t, StepCompensation, r.Next)
	})
}
