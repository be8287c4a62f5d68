/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentsession

import "time"

// State is an agent session's lifecycle state.
type State string

const (
	StateCreated              State = "CREATED"
	StatePending              State = "PENDING"
	StateInProgress           State = "IN_PROGRESS"
	StateAwaitingPlanApproval State = "AWAITING_PLAN_APPROVAL"
	StateAwaitingUserFeedback State = "AWAITING_USER_FEEDBACK"
	StateCompleted            State = "COMPLETED"
	StateFailed               State = "FAILED"
	StateCancelled            State = "CANCELLED"
)

// Terminal reports whether the session can never change state again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Session is one agent work unit on the platform.
type Session struct {
	// ID is the bare session id (the resource name minus its
	// "sessions/" prefix).
	ID string

	Title      string
	State      State
	CreateTime time.Time

	// StartingBranch is the branch the session was created against.
	StartingBranch string
}

// CreateSessionRequest describes a session to create.
type CreateSessionRequest struct {
	Prompt              string
	Owner               string
	Repo                string
	Branch              string
	Title               string
	AutomationMode      string
	RequirePlanApproval bool
}
