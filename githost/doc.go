/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githost is the scheduler's view of the code-hosting platform:
// pull request listing, lookup, creation, retargeting, merging, draft
// promotion, and unified diffs.
//
// Plain CRUD goes through the REST API. Reading a PR's mergeability and
// check rollup uses a single GraphQL query, because REST exposes the
// mergeable tri-state poorly and needs several round trips for checks.
// Mergeable is surfaced as *bool with nil meaning the platform is still
// computing; callers must treat nil as not-yet-green, never as green.
package githost
