package workflow

import (
	"context"
	"fmt"

	"github.com/songzhibin97/claimflow/types"
)

// Claim graph steps
const (
	StepSubmitClaim    types.StepID = "SubmitClaim"
	StepVerifyIdentity types.StepID = "VerifyIdentity"
	StepPolicyCheck    types.StepID = "PolicyCheck"
	StepFraudCheck     types.StepID = "FraudCheck"
	StepManualReview   types.StepID = "ManualReview"
	StepCompensation   types.StepID = "Compensation"
	StepPayment        types.StepID = "Payment"
	StepUpdateStatus   types.StepID = "UpdateStatus"
)

// StepKind tells the engine whether it runs a step or waits for a caller.
type StepKind int

const (
	// StepAutomated steps run their Handler through the Executor.
	StepAutomated StepKind = iota
	// StepManual steps park the instance on a ManualTask.
	StepManual
)

type (
	// Input is the read-only view a handler gets of its instance.
	Input struct {
		ProcessInstanceID string
		BusinessKey       string
		Context           types.ClaimContext
		Decision          *types.Decision
	}

	// Result is what one successful attempt produced.
	Result struct {
		Fields  types.Fields
		Summary string
	}

	// Handler performs the work of an automated step. It must not mutate
	// the instance; produced values go into Result.Fields.
	Handler func(ctx context.Context, in Input) (Result, error)

	// Route is the transition taken after a step.
	Route struct {
		Next     types.StepID
		Decision *types.Decision
	}

	// Router picks the next step from the context once a step is done.
	Router func(c types.ClaimContext) (Route, error)

	// Step is one node of the graph.
	Step struct {
		ID      types.StepID
		Kind    StepKind
		Name    string
		Handler Handler
		Retry   bool
		Route   Router
		// Final steps end the instance according to its decision.
		Final bool
	}

	// Graph is a static table of steps keyed by ID.
	Graph struct {
		start types.StepID
		steps map[types.StepID]Step
		order []types.StepID
	}
)

// NewGraph validates the steps and returns a graph entered at start.
func NewGraph(start types.StepID, steps ...Step) (*Graph, error) {
	g := &Graph{
		start: start,
		steps: make(map[types.StepID]Step, len(steps)),
	}
	for _, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step without id", ErrInvalidGraph)
		}
		if _, dup := g.steps[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step %s", ErrInvalidGraph, s.ID)
		}
		switch s.Kind {
		case StepAutomated:
			if s.Handler == nil {
				return nil, fmt.Errorf("%w: step %s has no handler", ErrInvalidGraph, s.ID)
			}
		case StepManual:
			if s.Name == "" {
				return nil, fmt.Errorf("%w: manual step %s has no name", ErrInvalidGraph, s.ID)
			}
			if s.Final {
				return nil, fmt.Errorf("%w: manual step %s cannot be final", ErrInvalidGraph, s.ID)
			}
		default:
			return nil, fmt.Errorf("%w: step %s has unknown kind", ErrInvalidGraph, s.ID)
		}
		if !s.Final && s.Route == nil {
			return nil, fmt.Errorf("%w: step %s has no route", ErrInvalidGraph, s.ID)
		}
		g.steps[s.ID] = s
		g.order = append(g.order, s.ID)
	}
	if _, ok := g.steps[start]; !ok {
		return nil, fmt.Errorf("%w: start step %s not defined", ErrInvalidGraph, start)
	}
	return g, nil
}

// Start returns the entry step.
func (g *Graph) Start() types.StepID {
	return g.start
}

// Step looks a step up by ID.
func (g *Graph) Step(id types.StepID) (Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// Steps returns the step IDs in declaration order.
func (g *Graph) Steps() []types.StepID {
	return append([]types.StepID(nil), g.order...)
}

// Goto routes unconditionally to next.
func Goto(next types.StepID) Route {
	return Route{Next: next}
}

// Reject routes to UpdateStatus with a REJECTED decision.
func Reject(reason string) Route {
	return Route{
		Next:     StepUpdateStatus,
		Decision: &types.Decision{Status: types.ClaimRejected, Message: reason},
	}
}

// Approve routes to UpdateStatus with an APPROVED decision.
func Approve(message string) Route {
	return Route{
		Next:     StepUpdateStatus,
		Decision: &types.Decision{Status: types.ClaimApproved, Message: message},
	}
}

// Always is a Router that ignores the context.
func Always(next types.StepID) Router {
	return func(types.ClaimContext) (Route, error) {
		return Goto(next), nil
	}
}
