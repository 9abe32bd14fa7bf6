package config

// SubagentConfig bounds the L10 scheduler's fan-out (spec §4.10).
type SubagentConfig struct {
	MaxConcurrent  int    `json:"max_concurrent"`
	DefaultTimeout string `json:"default_timeout"`

	// CancelOnParentEnd cancels every still-running child's context.Context
	// when the parent turn ends, resolving spec.md's Open Question on
	// subagent cancellation (SPEC_FULL.md §13).
	CancelOnParentEnd bool `json:"cancel_on_parent_end"`
}
