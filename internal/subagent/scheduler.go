// Package subagent is the L10 component: a bounded-parallel scheduler that
// spawns child conversations from a `subagent_run` tool call and streams
// their display-worthy events back to the parent (spec §4.10). Grounded
// directly on the original Rust `tools/handlers/subagent.rs`'s
// join_all-over-futures fan-out, adapted to the teacher's errgroup idiom
// from internal/campaign/intelligence_gatherer.go (itself an
// errgroup.WithContext fan-out of independent gathering goroutines).
package subagent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kaioken/internal/logging"
	"kaioken/internal/session"
	"kaioken/internal/types"
)

// SUBAGENT_LIMIT_MIN and SUBAGENT_LIMIT_HARD_CAP bound the task count spec
// §4.10 requires every call to clamp into. The original `config/types.rs`
// constants were not present in the retrieved source pack; these values are
// a DESIGN.md-documented judgment call consistent with the original's
// "a handful of parallel children, never unbounded" intent.
const (
	SubagentLimitMin     = 1
	SubagentLimitHardCap = 10
)

// TaskStatus is the lifecycle status reported for one child task (spec
// §4.10), an alias of the same enum the item log uses for a subagent_update
// item so callers building items from StatusUpdate need no conversion.
type TaskStatus = types.SubagentStatus

const (
	StatusRunning = types.SubagentRunning
	StatusDone    = types.SubagentDone
	StatusTimeout = types.SubagentTimeout
	StatusFailed  = types.SubagentFailed
)

// Task is one child conversation descriptor (spec §4.10).
type Task struct {
	Name    string
	Prompt  string
	Cwd     string        // optional working-directory override
	Timeout time.Duration // optional per-task deadline; zero means no deadline
}

// StatusUpdate is what the scheduler emits to the parent bus per child, once
// per status transition (spec §4.10 step 1 and step 4).
type StatusUpdate struct {
	TaskIndex int
	TaskName  string
	Status    TaskStatus
	Summary   string
}

// HistoryItem is a display-worthy child event forwarded to the parent,
// tagged with the originating task so the parent can attribute it (spec
// §4.10 step 3). Only the event kinds named in SPEC_FULL.md §13 are
// forwarded this way; AgentMessage instead becomes a StatusUpdate.
type HistoryItem struct {
	TaskIndex int
	TaskName  string
	Event     types.Event
}

// forwardedKinds is the exact set the original subagent.rs forwards as
// history items (SPEC_FULL.md §13).
var forwardedKinds = map[types.EventKind]bool{
	types.EventExecCommandBegin:       true,
	types.EventExecCommandOutputDelta: true,
	types.EventExecCommandEnd:         true,
	types.EventPatchApplyBegin:        true,
	types.EventPatchApplyEnd:          true,
	types.EventMcpToolCallBegin:       true,
	types.EventMcpToolCallEnd:         true,
	types.EventWebSearchBegin:         true,
	types.EventWebSearchEnd:           true,
}

// SpawnFunc creates and runs one child conversation to completion, submitting
// prompt as its sole user input and streaming its events to the returned
// channel; the channel is closed when the child's turn ends (whether via
// EventTaskComplete or ctx cancellation). The turn engine (L11) supplies this
// so internal/subagent never has to import internal/turn (which itself
// imports internal/subagent to handle subagent_run).
type SpawnFunc func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error)

// Scheduler runs subagent_run calls against a SpawnFunc (spec §4.10).
type Scheduler struct {
	spawn        SpawnFunc
	maxConcurrent int
}

// New constructs a Scheduler backed by spawn. maxConcurrent is clamped to
// [SubagentLimitMin, SubagentLimitHardCap].
func New(spawn SpawnFunc, maxConcurrent int) *Scheduler {
	return &Scheduler{spawn: spawn, maxConcurrent: effectiveLimit(maxConcurrent)}
}

func effectiveLimit(raw int) int {
	if raw < SubagentLimitMin {
		return SubagentLimitMin
	}
	if raw > SubagentLimitHardCap {
		return SubagentLimitHardCap
	}
	return raw
}

// ErrTooManyTasks is returned when tasks exceeds the scheduler's effective
// limit; the caller (the tool dispatcher) surfaces this as a model-visible
// error without starting any child (spec §4.10, §8 edge case).
type ErrTooManyTasks struct {
	Requested int
	Limit     int
}

func (e *ErrTooManyTasks) Error() string {
	return fmt.Sprintf("too many subagent tasks: %d requested, limit %d", e.Requested, e.Limit)
}

// Run spawns every task concurrently, waits for all to finish, and returns
// one Result per task in task order plus the parent-visible summary line
// (the concatenation spec §4.10 describes). statusCh and historyCh, if
// non-nil, receive live updates as they happen; callers should drain them
// concurrently with Run (buffered with ample headroom, but still drain them).
func (s *Scheduler) Run(ctx context.Context, parentCwd string, tasks []Task, statusCh chan<- StatusUpdate, historyCh chan<- HistoryItem) ([]Result, string, error) {
	if len(tasks) > s.maxConcurrent {
		return nil, "", &ErrTooManyTasks{Requested: len(tasks), Limit: s.maxConcurrent}
	}

	results := make([]Result, len(tasks))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		i, task := i, task
		eg.Go(func() error {
			results[i] = s.runOne(egCtx, parentCwd, i, task, statusCh, historyCh)
			return nil
		})
	}
	_ = eg.Wait() // runOne never returns an error; each failure is captured in its Result

	return results, formatSummary(results), nil
}

// Result is one task's final outcome (spec §4.10 step 4).
type Result struct {
	Name    string
	Status  TaskStatus
	Output  string
	Err     string
}

func (s *Scheduler) runOne(ctx context.Context, parentCwd string, idx int, task Task, statusCh chan<- StatusUpdate, historyCh chan<- HistoryItem) Result {
	emitStatus(statusCh, StatusUpdate{TaskIndex: idx, TaskName: task.Name, Status: StatusRunning})

	childCfg := session.Config{
		WorkingDir: resolveChildCwd(parentCwd, task.Cwd),
		Approval:   types.ApprovalNever,
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	events, err := s.spawn(runCtx, childCfg, task.Prompt)
	if err != nil {
		res := Result{Name: task.Name, Status: StatusFailed, Err: err.Error()}
		emitStatus(statusCh, StatusUpdate{TaskIndex: idx, TaskName: task.Name, Status: StatusFailed, Summary: err.Error()})
		return res
	}

	var lastMessage string
	for ev := range events {
		switch ev.Kind {
		case types.EventAgentMessage:
			if text, ok := ev.Payload.(string); ok {
				lastMessage = text
			}
			emitStatus(statusCh, StatusUpdate{TaskIndex: idx, TaskName: task.Name, Status: StatusRunning, Summary: lastMessage})
		case types.EventTaskComplete:
			if text, ok := ev.Payload.(string); ok && text != "" {
				lastMessage = text
			}
		default:
			if forwardedKinds[ev.Kind] {
				emitHistory(historyCh, HistoryItem{TaskIndex: idx, TaskName: task.Name, Event: ev})
			}
		}
	}

	status := StatusDone
	if runCtx.Err() == context.DeadlineExceeded {
		status = StatusTimeout
	}

	res := Result{Name: task.Name, Status: status, Output: lastMessage}
	if status == StatusTimeout {
		res.Err = fmt.Sprintf("timed out after %s", task.Timeout)
	} else if lastMessage == "" {
		res.Output = "no result produced"
	}

	emitStatus(statusCh, StatusUpdate{TaskIndex: idx, TaskName: task.Name, Status: status, Summary: firstNonEmpty(res.Err, res.Output)})
	return res
}

func emitStatus(ch chan<- StatusUpdate, u StatusUpdate) {
	if ch == nil {
		return
	}
	select {
	case ch <- u:
	default:
		logging.SubagentDebug("status channel full, dropping update for task %q", u.TaskName)
	}
}

func emitHistory(ch chan<- HistoryItem, item HistoryItem) {
	if ch == nil {
		return
	}
	select {
	case ch <- item:
	default:
		logging.SubagentDebug("history channel full, dropping event for task %q", item.TaskName)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveChildCwd implements the original's resolve_child_cwd (SPEC_FULL.md
// §13): empty override keeps the parent's cwd; an absolute override is used
// as-is; a relative override resolves against the parent's cwd.
func resolveChildCwd(parentCwd, override string) string {
	trimmed := strings.TrimSpace(override)
	if trimmed == "" {
		return parentCwd
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(parentCwd, trimmed)
}

// formatSummary concatenates the per-task "[name] status" lines plus any
// captured output/error, as the parent tool-call output (spec §4.10).
func formatSummary(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s\n", r.Name, r.Status)
		if r.Output != "" {
			b.WriteString(r.Output)
			b.WriteString("\n")
		}
		if r.Err != "" {
			fmt.Fprintf(&b, "error: %s\n", r.Err)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
