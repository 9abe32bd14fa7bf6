// Package session is the L6 component: the session object every other
// component shares state through (spec §4.6). It owns the ordered item
// log, the subscriber fan-out (EventBus), the rollout writer, and the
// interrupt FIFO that preserves display/log ordering while a model stream
// is still writing.
//
// No teacher file covers this directly — theRebelliousNerd-codenerd's
// internal/session package was a Mangle-kernel executor/subagent loop with
// no session-object or event-bus counterpart (see DESIGN.md for the
// deletion). The shape here is grounded on spec §3/§4.6/§5 directly, using
// the teacher's general idioms elsewhere: a mutex-guarded map (registry.go),
// sentinel errors (tools/errors.go), and the teacher's logging package.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kaioken/internal/logging"
	"kaioken/internal/types"
)

// Config is the immutable configuration captured at session start. It is
// deep-copied by CloneOriginalConfig to derive a subagent child's config
// (spec §4.6).
type Config struct {
	WorkingDir      string
	Model           string
	ReasoningEffort string
	Approval        types.ApprovalMode
	Sandbox         types.SandboxPolicy
}

// Clone returns a deep copy of cfg (SandboxPolicy.Roots is a slice).
func (c Config) Clone() Config {
	out := c
	if c.Sandbox.Roots != nil {
		out.Sandbox.Roots = append([]string(nil), c.Sandbox.Roots...)
	}
	return out
}

// RateLimitSnapshot is the 60-second poller's output (spec §5), informational
// only: StartRateLimitPoller surfaces it as a Warning event when near a limit.
type RateLimitSnapshot struct {
	PolledAt        time.Time
	RequestsPerMin  int
	RequestsLimit   int
	TokensPerMin    int
	TokensLimit     int
}

// Session is the per-conversation state shared by L6-L10 (spec §3). A
// session created for a subagent's child conversation is a full Session in
// its own right; the subagent scheduler (L10) is the only thing that knows
// it is a "child".
type Session struct {
	mu sync.Mutex

	id     string
	config Config

	rolloutPath string
	rollout     *RolloutWriter

	bus       *EventBus
	interrupt *InterruptQueue

	seq uint64

	items []types.Item

	usage         types.TokenUsage
	rateLimit     *RateLimitSnapshot
	deferredInput []string
}

// New creates a session with a fresh 128-bit identifier, opens its rollout
// file under rolloutDir (named "<id>.jsonl"), and wires an empty event bus
// and interrupt queue. Pass rolloutDir="" to run without a durable rollout
// (tests, or a replay target that is itself in-memory).
func New(cfg Config, rolloutDir string) (*Session, error) {
	id := uuid.New().String()

	s := &Session{
		id:        id,
		config:    cfg.Clone(),
		bus:       NewEventBus(),
		interrupt: NewInterruptQueue(),
	}

	if rolloutDir != "" {
		w, err := OpenRollout(rolloutDir, id)
		if err != nil {
			return nil, fmt.Errorf("session: open rollout: %w", err)
		}
		s.rollout = w
		s.rolloutPath = w.Path()
	}

	logging.Session("session %s created: workdir=%s model=%s", id, cfg.WorkingDir, cfg.Model)
	return s, nil
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// RolloutPath returns the rollout file path, or "" if the session has none.
func (s *Session) RolloutPath() string { return s.rolloutPath }

// Config returns the session's immutable configuration.
func (s *Session) Config() Config { return s.config }

// CloneOriginalConfig deep-copies the session's configuration, for the
// subagent scheduler (L10) to derive a child's configuration from (spec
// §4.6/§4.10).
func (s *Session) CloneOriginalConfig() Config {
	return s.config.Clone()
}

// Bus returns the session's event bus.
func (s *Session) Bus() *EventBus { return s.bus }

// Interrupt returns the session's interrupt FIFO.
func (s *Session) Interrupt() *InterruptQueue { return s.interrupt }

// SendEvent delivers an event to every subscriber (spec §4.6).
func (s *Session) SendEvent(ev types.Event) {
	s.bus.Publish(ev)
}

// Append assigns the next sequence number to item, writes it to rollout
// (unless it is synthetic/replayed), and adds it to the in-memory item
// log. Returns the sequence number assigned.
func (s *Session) Append(item types.Item) uint64 {
	s.mu.Lock()
	s.seq++
	item.Sequence = s.seq
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	s.items = append(s.items, item)
	rollout := s.rollout
	s.mu.Unlock()

	if rollout != nil && !item.IsSynthetic() {
		if err := rollout.Write(item); err != nil {
			logging.Get(logging.CategorySession).Error("session %s: rollout write failed: %v", s.id, err)
		}
	}
	return item.Sequence
}

// Items returns a snapshot copy of the ordered item log.
func (s *Session) Items() []types.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Item, len(s.items))
	copy(out, s.items)
	return out
}

// AccumulateUsage adds to the session's cumulative token usage.
func (s *Session) AccumulateUsage(u types.TokenUsage) types.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
	s.usage.TotalTokens += u.TotalTokens
	return s.usage
}

// Usage returns the cumulative token usage snapshot.
func (s *Session) Usage() types.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// SetRateLimit records the latest rate-limit poll result.
func (s *Session) SetRateLimit(snap RateLimitSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = &snap
}

// RateLimit returns the most recent rate-limit snapshot, or nil if none
// has been polled yet.
func (s *Session) RateLimit() *RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimit
}

// DeferUserMessage queues a user message submitted while a turn is active,
// for restoration into the composer on interrupt rather than auto-submit
// (spec §4.11).
func (s *Session) DeferUserMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferredInput = append(s.deferredInput, msg)
}

// DrainDeferredMessages returns and clears the queue of deferred user
// messages.
func (s *Session) DrainDeferredMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.deferredInput
	s.deferredInput = nil
	return out
}

// Close closes the rollout writer, if any.
func (s *Session) Close() error {
	if s.rollout != nil {
		return s.rollout.Close()
	}
	return nil
}
