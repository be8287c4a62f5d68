/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package branchmanager keeps the canonical integration branch alive and
// mergeable. Each tick it guarantees the branch exists, folds the trunk
// in when that is clean, and when the branch has drifted beyond
// mergeability it rotates the old history to a sprint backup branch and
// recreates the canonical branch from the trunk tip. Rotation renames,
// it never deletes: drifted work stays reachable on the backup branch.
package branchmanager
