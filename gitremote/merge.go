/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitremote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/chainguard-dev/clog"
)

// MergeResult classifies a merge-tree dry run.
type MergeResult int

const (
	// MergeClean means the two refs merge without conflict.
	MergeClean MergeResult = iota
	// MergeConflict means the merge would produce conflicts.
	MergeConflict
)

// MergeIntoBranch merges origin/<other> into origin/<branch> with a merge
// commit and pushes the result. A conflicting merge is aborted locally
// and returned as an error; the remote branch is left untouched.
func (r *Remote) MergeIntoBranch(ctx context.Context, branch, other string) error {
	if _, _, err := r.git(ctx, "checkout", "-B", branch, "origin/"+branch); err != nil {
		return fmt.Errorf("checking out %s: %w", branch, err)
	}

	_, _, err := r.git(ctx,
		"-c", "user.name="+r.identity,
		"-c", "user.email="+r.identity+"@chainguard.dev",
		"merge", "--no-edit", "origin/"+other)
	if err != nil {
		// Leave the worktree usable for the next operation.
		if _, _, abortErr := r.git(ctx, "merge", "--abort"); abortErr != nil {
			clog.FromContext(ctx).Warnf("Aborting failed merge: %v", abortErr)
		}
		return fmt.Errorf("merging origin/%s into %s: %w", other, branch, err)
	}

	return r.pushBranch(ctx, branch, false)
}

// MergeCheck runs merge-tree --write-tree on the remote-tracking copies
// of ours and theirs without touching any worktree or ref. It returns
// MergeConflict when git reports content conflicts, and an error when the
// tool itself fails.
func (r *Remote) MergeCheck(ctx context.Context, ours, theirs string) (MergeResult, error) {
	_, code, err := r.git(ctx, "merge-tree", "--write-tree", "origin/"+ours, "origin/"+theirs)
	switch {
	case code == 0:
		return MergeClean, nil
	case code == 1:
		return MergeConflict, nil
	default:
		return MergeClean, fmt.Errorf("merge-tree origin/%s origin/%s: %w", ours, theirs, err)
	}
}

// git runs the git binary in the clone directory and returns trimmed
// stdout plus the process exit code. The exit code is -1 when the process
// never ran.
func (r *Remote) git(ctx context.Context, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return out, code, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, 0, nil
}
