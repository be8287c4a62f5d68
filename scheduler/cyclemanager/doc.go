/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package cyclemanager answers one question each tick: where does the
// rotation stand? It finds the most recent scheduler-created session,
// maps it back to a persona through its PR's head ref (or the session's
// starting branch when no PR exists), and computes who runs next.
// Advancing past the last persona wraps to the first and flags a sprint
// increment.
package cyclemanager
