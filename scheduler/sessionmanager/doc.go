/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package sessionmanager drives one agent session through a tick:
// approving plans, nudging sessions stuck waiting for feedback, asking
// terminal sessions without a PR to finalize, and deciding when a
// session has been stuck long enough that the cycle should move on
// without it. All waiting is expressed as a decision, never a sleep; the
// scheduler returns and gets re-invoked.
package sessionmanager
