/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitremote performs the version-control operations the scheduler
// needs against a single authenticated remote: fetching, listing remote
// heads, resolving refs, pushing branch tips, copying branches, merging
// the trunk into the integration branch, and dry-run merge checks.
//
// Fetch, resolve, and push go through go-git with token auth. The two
// merge operations (a real merge commit and merge-tree conflict
// detection) are not implemented by go-git and shell out to the git CLI
// against the same local clone.
package gitremote
