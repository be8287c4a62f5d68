/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package scheduler holds the shared data model for the persona cycle
// scheduler: persona configuration, per-tick cycle state, session
// requests, and the two fatal error kinds (BranchError, MergeError) that
// abort a tick. The manager packages underneath this one implement the
// behavior; the driver package composes them into a single tick.
package scheduler
