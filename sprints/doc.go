/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package sprints persists the sprint counter: a monotonic integer that
// advances exactly once per completed persona cycle. The counter names
// drift backup branches, so it must survive between ticks and never move
// backwards.
package sprints
