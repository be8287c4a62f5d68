/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package driver composes the managers into the scheduler's tick: one
// idempotent pass that ensures the integration branch is healthy, works
// out where the persona rotation stands, resolves the last session's PR
// (merge, promote, nudge, or give up), and starts the next persona's
// session. A tick never sleeps; waiting means returning and being
// re-invoked by the hosting cron.
package driver
