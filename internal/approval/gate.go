// Package approval is the L8 component: every side-effecting tool call
// passes through a Gate before it runs (spec §4.8). Under OnRequest, the
// gate suspends the calling goroutine until a matching decision arrives;
// under Never it proceeds immediately; sandbox policy travels alongside
// the decision for the caller (exec/patch handlers) to enforce. Grounded
// on the teacher's registry/errors idiom (internal/tools/errors.go,
// registry.go): sentinel errors, a mutex-guarded map, no panics outside
// static registration.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kaioken/internal/logging"
	"kaioken/internal/types"
)

// ErrDenied is returned by Request when the matching decision is Denied.
var ErrDenied = errors.New("denied by user")

// ErrPending is returned by Resolve when no request is waiting under id.
var ErrPending = errors.New("no pending approval request for this id")

// Request describes a side-effecting call awaiting sign-off.
type Request struct {
	ID      string // the originating tool call identifier
	Kind    string // "exec" or "patch"
	Summary string // human-readable description shown to the user
}

// EventSink is the subset of the session event bus the gate needs: it
// emits an approval-request event and waits for a decision to surface
// through Resolve. Session (L6) implements this.
type EventSink interface {
	SendEvent(types.Event)
}

// Gate enforces spec §4.8's two-dimensional policy.
type Gate struct {
	mu       sync.Mutex
	mode     types.ApprovalMode
	sandbox  types.SandboxPolicy
	pending  map[string]chan types.ApprovalDecision
	sink     EventSink
}

// New constructs a Gate for the given policy. sink may be nil in tests that
// don't need to observe emitted events.
func New(mode types.ApprovalMode, sandbox types.SandboxPolicy, sink EventSink) *Gate {
	return &Gate{
		mode:    mode,
		sandbox: sandbox,
		pending: make(map[string]chan types.ApprovalDecision),
		sink:    sink,
	}
}

// Sandbox returns the currently configured sandbox policy, for handlers
// that need to know what roots/kind they're bound to.
func (g *Gate) Sandbox() types.SandboxPolicy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sandbox
}

// Request asks for sign-off on a side-effecting call. Under ApprovalNever
// it returns immediately. Under ApprovalOnRequest/ApprovalAlways it emits
// an approval-request event and blocks until Resolve is called with a
// matching id or ctx is cancelled.
func (g *Gate) Request(ctx context.Context, req Request) error {
	g.mu.Lock()
	mode := g.mode
	if mode == types.ApprovalNever {
		g.mu.Unlock()
		logging.ApprovalDebug("approval skipped (mode=never): %s", req.ID)
		return nil
	}

	ch := make(chan types.ApprovalDecision, 1)
	g.pending[req.ID] = ch
	g.mu.Unlock()

	if g.sink != nil {
		eventKind := types.EventExecApprovalRequest
		if req.Kind == "patch" {
			eventKind = types.EventApplyPatchApprovalRequest
		}
		g.sink.SendEvent(types.Event{
			Kind: eventKind,
			Payload: types.ApprovalItem{
				CallID:  req.ID,
				Kind:    req.Kind,
				Summary: req.Summary,
			},
		})
	}

	select {
	case decision := <-ch:
		if decision == types.DecisionDenied {
			logging.ApprovalDebug("approval denied: %s", req.ID)
			return ErrDenied
		}
		logging.ApprovalDebug("approval granted: %s", req.ID)
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Resolve delivers a decision to the goroutine blocked in Request for id.
// Returns ErrPending if no request is currently waiting under that id
// (e.g. it already timed out or was never made).
func (g *Gate) Resolve(id string, decision types.ApprovalDecision) error {
	g.mu.Lock()
	ch, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPending, id)
	}
	ch <- decision
	return nil
}

// SetPolicy updates the gate's policy (e.g. a CLI flag applied mid-session).
func (g *Gate) SetPolicy(mode types.ApprovalMode, sandbox types.SandboxPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
	g.sandbox = sandbox
}
