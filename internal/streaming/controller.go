// Package streaming is the L7 component: assembles the assistant's
// streamed text into commit-ticked visual lines (spec §4.7). No teacher
// file defines an equivalent state machine — theRebelliousNerd-codenerd's
// streaming lived entirely inside bubbletea's render loop, which spec §1
// explicitly places out of scope (terminal rendering). The state names and
// tick-driven flush mechanism are grounded on spec §4.7's prose directly;
// the width-aware line wrapping follows the general byte-budget/line-tiering
// idiom the teacher used elsewhere for allocating a fixed character budget
// (see internal/retrieval's diversify, itself grounded on the teacher's
// tiered_context.go allocation pattern).
package streaming

import (
	"strings"
	"sync"
)

// State is one of the four states a Controller moves through per spec
// §4.7: Idle -> Accumulating (first delta) -> Committing (tick-driven) ->
// Finalized (finalize() or end-of-stream).
type State string

const (
	StateIdle        State = "idle"
	StateAccumulating State = "accumulating"
	StateCommitting   State = "committing"
	StateFinalized    State = "finalized"
)

// Controller assembles token deltas into committed visual lines. It is
// width-aware: created with the render width so it can wrap deterministically
// without depending on whatever terminal/GUI surface consumes its output.
type Controller struct {
	mu    sync.Mutex
	width int
	state State
	buf   strings.Builder
	lines []string // committed lines, in emission order
}

// New constructs a Controller for the given render width (characters per
// visual line). width <= 0 disables wrapping (lines only break on '\n').
func New(width int) *Controller {
	return &Controller{width: width, state: StateIdle}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Push appends a text delta to the accumulation buffer. It reports
// needsAnimationStart=true exactly once per stream: on the transition out
// of Idle, so the caller knows to start the commit-tick animation.
func (c *Controller) Push(delta string) (needsAnimationStart bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		c.state = StateAccumulating
		needsAnimationStart = true
	}
	c.buf.WriteString(delta)
	return needsAnimationStart
}

// Tick flushes every complete visual line currently in the buffer into
// history and returns them. A line is complete when it ends in '\n', or
// when it has reached the configured width without one (so a very long
// unbroken line still streams incrementally instead of waiting forever for
// a newline). Calling Tick transitions Accumulating -> Committing.
func (c *Controller) Tick() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAccumulating {
		c.state = StateCommitting
	}

	complete, remainder := splitComplete(c.buf.String(), c.width)
	c.buf.Reset()
	c.buf.WriteString(remainder)

	c.lines = append(c.lines, complete...)
	return complete
}

// Finalize flushes any remaining buffered text (even an incomplete line)
// as a final cell and transitions to Finalized. Safe to call more than
// once; subsequent calls return nil.
func (c *Controller) Finalize() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFinalized {
		return nil
	}

	remainder := c.buf.String()
	c.buf.Reset()
	var final []string
	if remainder != "" {
		final = wrapLine(remainder, c.width)
		c.lines = append(c.lines, final...)
	}
	c.state = StateFinalized
	return final
}

// Lines returns every line committed so far, in emission order.
func (c *Controller) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// splitComplete separates buf into complete visual lines and a trailing
// remainder that is not yet complete (no terminating '\n' and shorter than
// width).
func splitComplete(buf string, width int) (complete []string, remainder string) {
	if buf == "" {
		return nil, ""
	}

	parts := strings.Split(buf, "\n")
	// Every part except the last came before a '\n' and is therefore complete.
	for _, p := range parts[:len(parts)-1] {
		complete = append(complete, wrapLine(p, width)...)
	}

	tail := parts[len(parts)-1]
	if width > 0 {
		for len([]rune(tail)) >= width {
			r := []rune(tail)
			complete = append(complete, string(r[:width]))
			tail = string(r[width:])
		}
	}
	return complete, tail
}

// wrapLine breaks a single newline-free logical line into width-sized
// chunks. width <= 0 means no wrapping.
func wrapLine(line string, width int) []string {
	if width <= 0 {
		return []string{line}
	}
	r := []rune(line)
	if len(r) == 0 {
		return []string{""}
	}
	var out []string
	for len(r) > width {
		out = append(out, string(r[:width]))
		r = r[width:]
	}
	out = append(out, string(r))
	return out
}
