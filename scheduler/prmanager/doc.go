/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package prmanager owns pull request lifecycle for the scheduler:
// resolving which PR belongs to a session, deciding whether a PR is
// green enough to merge, merging into the integration branch with
// bounded retries, promoting drafts, and keeping the standing
// integration-to-trunk PR open while the branch is ahead.
package prmanager
