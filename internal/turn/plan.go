package turn

import "context"

// planDecisionKind is the operator's answer to a suspended plan (spec §9:
// "the engine suspends execution until the operator approves/refines").
type planDecisionKind string

const (
	planApproved planDecisionKind = "approved"
	planRefined  planDecisionKind = "refined"
)

type planDecision struct {
	kind     planDecisionKind
	feedback string
}

// ApprovePlan unblocks a turn suspended in StatePlanSuspended, allowing
// execution to proceed with the plan as declared.
func (e *Engine) ApprovePlan() {
	e.sendPlanDecision(planDecision{kind: planApproved})
}

// RefinePlan unblocks a turn suspended in StatePlanSuspended with operator
// feedback instead of approval; the turn engine resubmits the conversation
// with feedback appended so the model can revise its plan.
func (e *Engine) RefinePlan(feedback string) {
	e.sendPlanDecision(planDecision{kind: planRefined, feedback: feedback})
}

func (e *Engine) sendPlanDecision(d planDecision) {
	e.mu.Lock()
	ch := e.planGate
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- d:
	default:
	}
}

// awaitPlanDecision blocks until ApprovePlan/RefinePlan is called or ctx is
// cancelled. Returns ok=false on cancellation.
func (e *Engine) awaitPlanDecision(ctx context.Context) (planDecision, bool) {
	e.mu.Lock()
	ch := make(chan planDecision, 1)
	e.planGate = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.planGate = nil
		e.mu.Unlock()
	}()

	select {
	case d := <-ch:
		return d, true
	case <-ctx.Done():
		return planDecision{}, false
	}
}
