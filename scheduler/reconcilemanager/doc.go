/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package reconcilemanager turns a drift rotation into remediation: it
// reads the backup PR's diff and creates one agent session asked to
// reapply the preserved work onto the recreated integration branch. A
// persistent ledger guarantees at most one reconciliation attempt per
// sprint, no matter how often ticks observe the same rotation.
package reconcilemanager
