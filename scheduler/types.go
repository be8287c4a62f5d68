/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package scheduler

const (
	// DefaultIntegrationBranch is the canonical branch persona sessions
	// merge into.
	DefaultIntegrationBranch = "cycle"

	// DefaultTrunkBranch is the repository trunk the integration branch
	// is periodically synced from and eventually merged back into.
	DefaultTrunkBranch = "main"

	// DefaultBranchPrefix prefixes every branch the scheduler creates.
	DefaultBranchPrefix = "cycle"

	// AutomationModeAutoPR instructs the session platform to open a pull
	// request automatically when the session produces changes.
	AutomationModeAutoPR = "AUTO_CREATE_PR"

	// DryRunSessionID is the sentinel returned instead of a real session
	// id when mutations are suppressed.
	DryRunSessionID = "dry-run"
)

// PersonaConfig is one entry of the ordered persona cycle.
type PersonaConfig struct {
	// ID is the short stable identifier used in branch names.
	ID string

	// Title is the human-readable name used in session titles.
	Title string

	// Prompt is the fully rendered prompt body for the persona.
	Prompt string

	// Schedule optionally carries a cron-like expression for scheduled
	// (non-cycle) invocation.
	Schedule string

	// OrderIndex is the persona's position in the cycle.
	OrderIndex int
}

// CycleState captures where the rotation currently stands. It is derived
// fresh each tick from remote session and PR state, never persisted.
type CycleState struct {
	// LastSessionID is the most recent scheduler-created session, if any.
	LastSessionID string

	// LastPersonaID is the persona that session ran as.
	LastPersonaID string

	// NextPersonaID and NextPersonaIndex identify the persona that runs
	// once the last session's work is resolved.
	NextPersonaID    string
	NextPersonaIndex int

	// ShouldIncrementSprint is set when advancing wraps past the end of
	// the persona list.
	ShouldIncrementSprint bool

	// BasePRNumber is the pull request the last session produced, when
	// one resolved. Decimal string, empty when none.
	BasePRNumber string
}

// SessionRequest describes a session to create on the agent platform.
type SessionRequest struct {
	PersonaID           string
	Prompt              string
	Owner               string
	Repo                string
	Branch              string
	Title               string
	AutomationMode      string
	RequirePlanApproval bool
}
