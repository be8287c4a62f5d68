/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package scheduler

import "fmt"

// BranchError reports that the integration branch could not be
// established. It is fatal for the tick: no session work can proceed
// without the canonical branch.
type BranchError struct {
	Err error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("integration branch: %v", e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// MergeError reports that merging a pull request into the integration
// branch failed after retries were exhausted, or hit a non-retryable
// failure class. It is fatal for the tick: advancing past an unmerged PR
// would lose work.
type MergeError struct {
	PRNumber int
	Err      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merging PR #%d: %v", e.PRNumber, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
