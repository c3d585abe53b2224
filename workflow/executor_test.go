package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/log"
	"github.com/songzhibin97/claimflow/types"
)

func TestBackoff(t *testing.T) {
	p := RetryPolicy{InitBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(30))

	assert.Zero(t, RetryPolicy{}.Backoff(3))
	assert.Equal(t, 8*time.Second, RetryPolicy{InitBackoff: time.Second}.Backoff(4))
}

func TestExecutor(t *testing.T) {
	x := NewExecutor(RetryPolicy{
		MaxAttempts: 3,
		InitBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		Timeout:     time.Second,
	}, log.Discard())
	ctx := context.Background()
	in := Input{
		ProcessInstanceID: "1",
		Context: types.ClaimContext{
			CustomerID: "C-7",
			FullName:   "Jane Roe",
		},
	}

	t.Run("no retry without flag", func(t *testing.T) {
		var calls int32
		out := x.Execute(ctx, Step{
			ID: StepSubmitClaim,
			Handler: func(context.Context, Input) (Result, error) {
				atomic.AddInt32(&calls, 1)
				return Result{}, clients.ErrUnavailable
			},
		}, in)
		assert.False(t, out.Success())
		assert.ErrorIs(t, out.Err, ErrTransientStep)
		assert.Equal(t, int32(1), calls)
		require.Len(t, out.Attempts, 1)
		assert.Equal(t, types.OutcomeTransientError, out.Attempts[0].Outcome)
	})

	t.Run("succeeds after retry", func(t *testing.T) {
		var calls int32
		out := x.Execute(ctx, Step{
			ID:    StepFraudCheck,
			Retry: true,
			Handler: func(context.Context, Input) (Result, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return Result{}, context.DeadlineExceeded
				}
				return Result{Summary: "risk=LOW for Jane Roe"}, nil
			},
		}, in)
		require.True(t, out.Success())
		require.Len(t, out.Attempts, 2)
		assert.Equal(t, 2, out.Attempts[1].Attempt)
		assert.Equal(t, "risk=LOW for Jane Roe", out.Attempts[1].Summary)
		assert.Equal(t, "risk=LOW for Jane Roe", out.Result.Summary)
		assert.Equal(t, "context deadline exceeded", out.Attempts[0].Summary)
		assert.GreaterOrEqual(t, out.Attempts[1].ExitedAt, out.Attempts[1].EnteredAt)
	})

	t.Run("permanent error stops retries", func(t *testing.T) {
		var calls int32
		boom := errors.New("bad request for C-7")
		out := x.Execute(ctx, Step{
			ID:    StepPolicyCheck,
			Retry: true,
			Handler: func(context.Context, Input) (Result, error) {
				atomic.AddInt32(&calls, 1)
				return Result{}, boom
			},
		}, in)
		assert.ErrorIs(t, out.Err, boom)
		assert.Equal(t, int32(1), calls)
		assert.Equal(t, types.OutcomeFailed, out.Attempts[0].Outcome)
		assert.Equal(t, "bad request for ***", out.Attempts[0].Summary)
	})

	t.Run("exhausted", func(t *testing.T) {
		out := x.Execute(ctx, Step{
			ID:    StepPayment,
			Retry: true,
			Handler: func(context.Context, Input) (Result, error) {
				return Result{}, fmt.Errorf("%w: gateway down", clients.ErrUnavailable)
			},
		}, in)
		assert.ErrorIs(t, out.Err, ErrTransientStep)
		assert.Contains(t, out.Err.Error(), "Payment failed after 3 attempts")
		assert.Len(t, out.Attempts, 3)
	})

	t.Run("panic becomes failure", func(t *testing.T) {
		out := x.Execute(ctx, Step{
			ID:    StepCompensation,
			Retry: true,
			Handler: func(context.Context, Input) (Result, error) {
				panic("nil max payable")
			},
		}, in)
		require.Error(t, out.Err)
		assert.Contains(t, out.Err.Error(), "panicked")
		require.Len(t, out.Attempts, 1)
		assert.Equal(t, types.OutcomeFailed, out.Attempts[0].Outcome)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		out := x.Execute(cctx, Step{
			ID:    StepVerifyIdentity,
			Retry: true,
			Handler: func(ctx context.Context, _ Input) (Result, error) {
				cancel()
				return Result{}, ctx.Err()
			},
		}, in)
		assert.ErrorIs(t, out.Err, context.Canceled)
		require.Len(t, out.Attempts, 1)
		assert.Equal(t, types.OutcomeCancelled, out.Attempts[0].Outcome)
	})
}

func TestRedact(t *testing.T) {
	c := types.ClaimContext{CustomerID: "500", FullName: "Ann Lee"}

	tests := []struct {
		in   string
		want string
	}{
		{"lookup 500 failed", "lookup *** failed"},
		{"500", "***"},
		{"customer 500.", "customer ***."},
		{"payableAmount=500.00", "payableAmount=500.00"},
		{"maxPayable=1500", "maxPayable=1500"},
		{"claim CLM-500 missing", "claim CLM-500 missing"},
		{"id=500, name=Ann Lee", "id=***, name=***"},
		{"Ann Leeds", "Ann Leeds"},
		{"500 500", "*** ***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redact(tt.in, c), tt.in)
	}

	assert.Equal(t, "nothing to mask", redact("nothing to mask", types.ClaimContext{}))
}

func TestParallel(t *testing.T) {
	ctx := context.Background()

	t.Run("merges fields", func(t *testing.T) {
		h := Parallel(
			func(context.Context, Input) (Result, error) {
				return Result{Fields: types.Fields{IdentityOK: types.Ptr(true)}, Summary: "identity"}, nil
			},
			func(context.Context, Input) (Result, error) {
				return Result{Fields: types.Fields{FraudRisk: types.Ptr(types.RiskLow)}, Summary: "fraud"}, nil
			},
		)
		res, err := h(ctx, Input{})
		require.NoError(t, err)
		assert.True(t, *res.Fields.IdentityOK)
		assert.Equal(t, types.RiskLow, *res.Fields.FraudRisk)
		assert.Equal(t, "identity; fraud", res.Summary)
	})

	t.Run("conflicting fields", func(t *testing.T) {
		same := func(context.Context, Input) (Result, error) {
			return Result{Fields: types.Fields{Covered: types.Ptr(true)}}, nil
		}
		_, err := Parallel(same, same)(ctx, Input{})
		assert.ErrorIs(t, err, types.ErrFieldAlreadySet)
	})

	t.Run("first error cancels the rest", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Parallel(
			func(context.Context, Input) (Result, error) {
				return Result{}, boom
			},
			func(ctx context.Context, _ Input) (Result, error) {
				<-ctx.Done()
				return Result{}, ctx.Err()
			},
		)(ctx, Input{})
		assert.ErrorIs(t, err, boom)
	})
}

func TestPayableAmount(t *testing.T) {
	tests := []struct {
		name    string
		claimed string
		max     string
		want    string
	}{
		{"claimed below max", "500.00", "5000", "500.00"},
		{"capped by max", "800", "500", "500.00"},
		{"equal", "500", "500", "500.00"},
		{"unknown max", "800", "", "0.00"},
		{"negative max", "800", "-1", "0.00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var maxPayable *decimal.Decimal
			if tc.max != "" {
				maxPayable = types.Ptr(decimal.RequireFromString(tc.max))
			}
			got := PayableAmount(decimal.RequireFromString(tc.claimed), maxPayable)
			assert.Equal(t, tc.want, got.StringFixed(2))
			assert.False(t, got.IsNegative())
		})
	}
}
