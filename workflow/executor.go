package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/log"
	"github.com/songzhibin97/claimflow/types"
)

const redacted = "***"

type (
	// RetryPolicy bounds each attempt and the retries of transient errors.
	RetryPolicy struct {
		MaxAttempts int
		InitBackoff time.Duration
		MaxBackoff  time.Duration
		Timeout     time.Duration
	}

	// Outcome is the result of running a step with retries. Attempts holds
	// one log entry per executed attempt.
	Outcome struct {
		Result   Result
		Err      error
		Attempts []types.StepLogEntry
	}

	// Executor runs automated steps under a RetryPolicy.
	Executor struct {
		policy RetryPolicy
		logger *slog.Logger
		now    func() time.Time
	}
)

// NewExecutor creates an Executor.
func NewExecutor(policy RetryPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Executor{
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Success reports whether the step produced a result.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Execute runs step.Handler until it succeeds, fails for a non-transient
// reason, exhausts its attempts, or ctx is done.
func (x *Executor) Execute(ctx context.Context, step Step, in Input) Outcome {
	var out Outcome
	attempts := 1
	if step.Retry {
		attempts = x.policy.MaxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		entered := x.now()
		res, timedOut, err := x.attempt(ctx, step, in)
		entry := types.StepLogEntry{
			StepID:    step.ID,
			Attempt:   attempt,
			EnteredAt: entered.UnixMilli(),
			ExitedAt:  x.now().UnixMilli(),
		}

		switch {
		case err == nil:
			entry.Outcome = types.OutcomeSucceeded
			entry.Summary = res.Summary
			out.Attempts = append(out.Attempts, entry)
			out.Result = res
			return out

		case ctx.Err() != nil:
			entry.Outcome = types.OutcomeCancelled
			entry.Summary = redact(err.Error(), in.Context)
			out.Attempts = append(out.Attempts, entry)
			out.Err = ctx.Err()
			return out

		case !isTransient(err, timedOut):
			entry.Outcome = types.OutcomeFailed
			entry.Summary = redact(err.Error(), in.Context)
			out.Attempts = append(out.Attempts, entry)
			out.Err = err
			return out
		}

		entry.Outcome = types.OutcomeTransientError
		entry.Summary = redact(err.Error(), in.Context)
		out.Attempts = append(out.Attempts, entry)
		x.logger.Warn("Step attempt failed",
			log.ProcessID(in.ProcessInstanceID),
			log.StepID(step.ID),
			log.Attempt(attempt),
			log.Error(err))

		if attempt == attempts {
			out.Err = fmt.Errorf("%w: %s failed after %d attempts: %v",
				ErrTransientStep, step.ID, attempts, err)
			return out
		}

		if err := x.wait(ctx, attempt); err != nil {
			out.Err = err
			return out
		}
	}
	return out
}

func (x *Executor) attempt(
	ctx context.Context, step Step, in Input,
) (res Result, timedOut bool, err error) {
	actx := ctx
	if x.policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, x.policy.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", step.ID, r)
			timedOut = false
		}
	}()

	res, err = step.Handler(actx, in)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		timedOut = true
	}
	return res, timedOut, err
}

// Backoff returns the wait before the attempt following attempt n.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if p.InitBackoff <= 0 {
		return 0
	}
	d := p.InitBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (x *Executor) wait(ctx context.Context, attempt int) error {
	d := x.policy.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTransient(err error, timedOut bool) bool {
	return timedOut ||
		errors.Is(err, clients.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// redact masks the customer's id and name in error text. A value is only
// masked where it stands as a whole token, so "500" inside "500.00" or
// "CLM-500" survives.
func redact(s string, c types.ClaimContext) string {
	for _, secret := range []string{c.FullName, c.CustomerID} {
		s = maskToken(s, strings.TrimSpace(secret))
	}
	return s
}

func maskToken(s, token string) string {
	if token == "" {
		return s
	}
	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, token)
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := i + len(token)
		if tokenStart(rest, i) && tokenEnd(rest, end) {
			b.WriteString(rest[:i])
			b.WriteString(redacted)
		} else {
			b.WriteString(rest[:end])
		}
		rest = rest[end:]
	}
}

func tokenStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isTokenRune(r) && r != '.'
}

func tokenEnd(s string, i int) bool {
	if i == len(s) {
		return true
	}
	r, n := utf8.DecodeRuneInString(s[i:])
	if r == '.' {
		next, _ := utf8.DecodeRuneInString(s[i+n:])
		return !unicode.IsDigit(next)
	}
	return !isTokenRune(r)
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}

// Parallel runs independent handlers concurrently and merges their
// fields. The first error cancels the others and is returned.
func Parallel(handlers ...Handler) Handler {
	return func(ctx context.Context, in Input) (Result, error) {
		results := make([]Result, len(handlers))
		g, gctx := errgroup.WithContext(ctx)
		for i, h := range handlers {
			i, h := i, h
			g.Go(func() error {
				res, err := h(gctx, in)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}

		var merged types.ClaimContext
		summaries := make([]string, 0, len(results))
		for _, res := range results {
			if err := merged.Apply(res.Fields); err != nil {
				return Result{}, err
			}
			if res.Summary != "" {
				summaries = append(summaries, res.Summary)
			}
		}
		return Result{
			Fields:  merged.Fields,
			Summary: strings.Join(summaries, "; "),
		}, nil
	}
}
