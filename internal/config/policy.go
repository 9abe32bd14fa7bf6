package config

import (
	"fmt"

	"kaioken/internal/types"
)

// ApprovalConfig is the JSON-serializable form of a (ApprovalMode,
// SandboxPolicy) pair (spec §4.8). Stored as plain strings rather than the
// internal/types enums directly so config.json stays human-editable
// without importing types' Go identifiers.
type ApprovalConfig struct {
	Mode        string   `json:"mode"`         // never | on_request | always
	SandboxKind string   `json:"sandbox_kind"` // read_only | workspace_write | danger_full_access
	SandboxRoots []string `json:"sandbox_roots,omitempty"`
}

// Resolve converts the stored strings into a types.Preset-shaped pair,
// rejecting unrecognized values rather than silently defaulting — a
// misconfigured sandbox is a safety issue, not a warning.
func (a ApprovalConfig) Resolve() (types.ApprovalMode, types.SandboxPolicy, error) {
	var mode types.ApprovalMode
	switch a.Mode {
	case string(types.ApprovalNever):
		mode = types.ApprovalNever
	case string(types.ApprovalOnRequest):
		mode = types.ApprovalOnRequest
	case string(types.ApprovalAlways):
		mode = types.ApprovalAlways
	default:
		return "", types.SandboxPolicy{}, fmt.Errorf("config: unknown approval mode %q", a.Mode)
	}

	var kind types.SandboxKind
	switch a.SandboxKind {
	case string(types.SandboxReadOnly):
		kind = types.SandboxReadOnly
	case string(types.SandboxWorkspaceWrite):
		kind = types.SandboxWorkspaceWrite
	case string(types.SandboxDangerFullAccess):
		kind = types.SandboxDangerFullAccess
	default:
		return "", types.SandboxPolicy{}, fmt.Errorf("config: unknown sandbox kind %q", a.SandboxKind)
	}

	return mode, types.SandboxPolicy{Kind: kind, Roots: a.SandboxRoots}, nil
}

// FromPreset sets the config fields from a named preset, for `kaioken run
// --preset=read-only` style CLI flags.
func (a *ApprovalConfig) FromPreset(p types.Preset) {
	a.Mode = string(p.Approval)
	a.SandboxKind = string(p.Sandbox.Kind)
	a.SandboxRoots = p.Sandbox.Roots
}
