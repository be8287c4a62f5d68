/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agentsession is a client for the remote agent session
// platform. Sessions are the unit of agent work: created against a repo
// branch with a prompt, they move through a small state machine
// (CREATED .. IN_PROGRESS .. terminal) and may pause for plan approval
// or user feedback. The scheduler lists, inspects, creates, approves,
// and messages sessions; it never runs agents in-process.
package agentsession
