/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package branchmanager_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chainguard.dev/cyclescheduler/githost"
	"chainguard.dev/cyclescheduler/gitremote"
	"chainguard.dev/cyclescheduler/scheduler"
	"chainguard.dev/cyclescheduler/scheduler/branchmanager"
)

// fakeRemote models the remote as a branch -> SHA map and records every
// mutating call. An up-to-date merge is a no-op and records nothing, so
// idempotence is observable.
type fakeRemote struct {
	branches map[string]string

	mergeCheck    gitremote.MergeResult
	mergeCheckErr error
	mergeErr      error
	mergeUpToDate bool
	fetchErr      error
	copyErr       error

	mutations []string
}

func (f *fakeRemote) Fetch(context.Context) error {
	return f.fetchErr
}

func (f *fakeRemote) BranchExists(_ context.Context, branch string) (bool, error) {
	_, ok := f.branches[branch]
	return ok, nil
}

func (f *fakeRemote) ResolveRef(_ context.Context, ref string) (string, error) {
	sha, ok := f.branches[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %s", ref)
	}
	return sha, nil
}

func (f *fakeRemote) PushRef(_ context.Context, sha, branch string, force bool) error {
	f.mutations = append(f.mutations, fmt.Sprintf("push %s@%s force=%t", branch, sha, force))
	f.branches[branch] = sha
	return nil
}

func (f *fakeRemote) CopyBranch(_ context.Context, src, dst string) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	sha, ok := f.branches[src]
	if !ok {
		return fmt.Errorf("unknown ref %s", src)
	}
	if _, exists := f.branches[dst]; exists {
		return fmt.Errorf("branch %s already exists", dst)
	}
	f.mutations = append(f.mutations, fmt.Sprintf("copy %s -> %s", src, dst))
	f.branches[dst] = sha
	return nil
}

func (f *fakeRemote) MergeIntoBranch(_ context.Context, branch, other string) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	if f.mergeUpToDate {
		return nil
	}
	f.mutations = append(f.mutations, fmt.Sprintf("merge %s into %s", other, branch))
	f.branches[branch] = f.branches[branch] + "+" + f.branches[other]
	return nil
}

func (f *fakeRemote) MergeCheck(context.Context, string, string) (gitremote.MergeResult, error) {
	return f.mergeCheck, f.mergeCheckErr
}

type fakePRs struct {
	created []string
	err     error
}

func (f *fakePRs) CreatePR(_ context.Context, _, _, head, base, title, _ string) (*githost.PRInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, fmt.Sprintf("%s -> %s: %s", head, base, title))
	return &githost.PRInfo{Number: 77, HeadRef: head, BaseRef: base}, nil
}

type fakeSprints struct {
	sprint int
	err    error
}

func (f *fakeSprints) Current(context.Context) (int, error) {
	return f.sprint, f.err
}

func newManager(remote *fakeRemote, prs *fakePRs, sprint int) *branchmanager.Manager {
	return branchmanager.New(remote, prs, &fakeSprints{sprint: sprint}, "acme", "widgets")
}

func TestEnsureHealthyCreatesMissingBranch(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{branches: map[string]string{"main": "abc123"}}
	m := newManager(remote, &fakePRs{}, 1)

	rot, err := m.EnsureHealthy(context.Background())
	if err != nil {
		t.Fatalf("EnsureHealthy: %v", err)
	}
	if rot != nil {
		t.Errorf("rotation = %+v, want nil for fresh creation", rot)
	}
	if remote.branches["cycle"] != "abc123" {
		t.Errorf("cycle = %q, want trunk tip abc123", remote.branches["cycle"])
	}
}

func TestEnsureHealthyIsIdempotentWhenHealthy(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches:      map[string]string{"main": "abc", "cycle": "abc+def"},
		mergeCheck:    gitremote.MergeClean,
		mergeUpToDate: true,
	}
	m := newManager(remote, &fakePRs{}, 1)

	for i := 0; i < 2; i++ {
		rot, err := m.EnsureHealthy(context.Background())
		if err != nil {
			t.Fatalf("EnsureHealthy run %d: %v", i+1, err)
		}
		if rot != nil {
			t.Errorf("run %d rotation = %+v, want nil", i+1, rot)
		}
	}
	if len(remote.mutations) != 0 {
		t.Errorf("healthy branch caused mutations: %v", remote.mutations)
	}
}

func TestEnsureHealthyRotatesDriftedBranch(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches:   map[string]string{"main": "trunk9", "cycle": "old42"},
		mergeCheck: gitremote.MergeConflict,
	}
	prs := &fakePRs{}
	m := newManager(remote, prs, 3)

	rot, err := m.EnsureHealthy(context.Background())
	if err != nil {
		t.Fatalf("EnsureHealthy: %v", err)
	}
	if rot == nil {
		t.Fatal("expected a rotation")
	}
	if rot.Sprint != 3 || rot.BackupBranch != "cycle-sprint-3" || rot.BackupPR != 77 {
		t.Errorf("rotation = %+v", rot)
	}

	// Drifted history is preserved on the backup, canonical branch is
	// recreated at the trunk tip.
	if remote.branches["cycle-sprint-3"] != "old42" {
		t.Errorf("backup = %q, want old42", remote.branches["cycle-sprint-3"])
	}
	if remote.branches["cycle"] != "trunk9" {
		t.Errorf("cycle = %q, want trunk9", remote.branches["cycle"])
	}
	if len(prs.created) != 1 {
		t.Errorf("backup PRs created = %v, want one", prs.created)
	}
}

func TestEnsureHealthyTreatsFailedMergeAsDrift(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches:   map[string]string{"main": "t1", "cycle": "c1"},
		mergeCheck: gitremote.MergeClean,
		mergeErr:   errors.New("exit status 1: conflict"),
	}
	m := newManager(remote, &fakePRs{}, 2)

	rot, err := m.EnsureHealthy(context.Background())
	if err != nil {
		t.Fatalf("EnsureHealthy: %v", err)
	}
	if rot == nil || rot.BackupBranch != "cycle-sprint-2" {
		t.Fatalf("rotation = %+v, want backup cycle-sprint-2", rot)
	}
}

func TestEnsureHealthyToolFailureAssumesNoDrift(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches:      map[string]string{"main": "t1", "cycle": "c1"},
		mergeCheckErr: errors.New("merge-tree: exit status 128"),
		mergeUpToDate: true,
	}
	m := newManager(remote, &fakePRs{}, 2)

	rot, err := m.EnsureHealthy(context.Background())
	if err != nil {
		t.Fatalf("EnsureHealthy: %v", err)
	}
	if rot != nil {
		t.Errorf("rotation = %+v, want nil when the dry run itself fails", rot)
	}
}

func TestEnsureHealthyBackupCopyFailureIsBranchError(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches:   map[string]string{"main": "t1", "cycle": "c1"},
		mergeCheck: gitremote.MergeConflict,
		copyErr:    errors.New("push rejected"),
	}
	m := newManager(remote, &fakePRs{}, 2)

	_, err := m.EnsureHealthy(context.Background())
	var be *scheduler.BranchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BranchError when backup copy fails, got %v", err)
	}
	// The drifted branch must not have been overwritten.
	if remote.branches["cycle"] != "c1" {
		t.Errorf("cycle = %q, drifted history was destroyed", remote.branches["cycle"])
	}
}

func TestEnsureHealthyBackupPRFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches:   map[string]string{"main": "t1", "cycle": "c1"},
		mergeCheck: gitremote.MergeConflict,
	}
	m := newManager(remote, &fakePRs{err: errors.New("422")}, 4)

	rot, err := m.EnsureHealthy(context.Background())
	if err != nil {
		t.Fatalf("EnsureHealthy: %v", err)
	}
	if rot == nil || rot.BackupPR != 0 {
		t.Errorf("rotation = %+v, want BackupPR 0 after PR failure", rot)
	}
	if remote.branches["cycle-sprint-4"] != "c1" {
		t.Errorf("backup missing despite PR failure: %v", remote.branches)
	}
}

func TestSyncWithMainCleanMerge(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches: map[string]string{"main": "t1", "cycle": "c1"},
	}
	m := newManager(remote, &fakePRs{}, 1)

	rot, err := m.SyncWithMain(context.Background())
	if err != nil {
		t.Fatalf("SyncWithMain: %v", err)
	}
	if rot != nil {
		t.Errorf("rotation = %+v, want nil for clean sync", rot)
	}
	if remote.branches["cycle"] != "c1+t1" {
		t.Errorf("cycle = %q, want merged c1+t1", remote.branches["cycle"])
	}
}

func TestSyncWithMainConflictRotates(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{
		branches: map[string]string{"main": "t1", "cycle": "c1"},
		mergeErr: errors.New("merge conflict"),
	}
	m := newManager(remote, &fakePRs{}, 5)

	rot, err := m.SyncWithMain(context.Background())
	if err != nil {
		t.Fatalf("SyncWithMain: %v", err)
	}
	if rot == nil || rot.BackupBranch != "cycle-sprint-5" {
		t.Fatalf("rotation = %+v, want backup cycle-sprint-5", rot)
	}
	if remote.branches["cycle"] != "t1" {
		t.Errorf("cycle = %q, want recreated at t1", remote.branches["cycle"])
	}
}

func TestDryRunLeavesRemoteUntouched(t *testing.T) {
	t.Parallel()

	newDryRun := func(remote *fakeRemote, prs *fakePRs) *branchmanager.Manager {
		return branchmanager.New(remote, prs, &fakeSprints{sprint: 3}, "acme", "widgets",
			branchmanager.WithDryRun(true))
	}

	t.Run("missing branch is not created", func(t *testing.T) {
		t.Parallel()
		remote := &fakeRemote{branches: map[string]string{"main": "abc123"}}
		m := newDryRun(remote, &fakePRs{})

		rot, err := m.EnsureHealthy(context.Background())
		if err != nil {
			t.Fatalf("EnsureHealthy: %v", err)
		}
		if rot != nil {
			t.Errorf("rotation = %+v, want nil", rot)
		}
		if len(remote.mutations) != 0 {
			t.Errorf("dry run mutated the remote: %v", remote.mutations)
		}
		if _, exists := remote.branches["cycle"]; exists {
			t.Error("dry run created the integration branch")
		}
	})

	t.Run("drifted branch is not rotated", func(t *testing.T) {
		t.Parallel()
		remote := &fakeRemote{
			branches:   map[string]string{"main": "t1", "cycle": "c1"},
			mergeCheck: gitremote.MergeConflict,
		}
		prs := &fakePRs{}
		m := newDryRun(remote, prs)

		rot, err := m.EnsureHealthy(context.Background())
		if err != nil {
			t.Fatalf("EnsureHealthy: %v", err)
		}
		if rot != nil {
			t.Errorf("rotation = %+v, want nil", rot)
		}
		if len(remote.mutations) != 0 || len(prs.created) != 0 {
			t.Errorf("dry run rotated: mutations=%v prs=%v", remote.mutations, prs.created)
		}
		if remote.branches["cycle"] != "c1" {
			t.Errorf("cycle = %q, drifted history was touched", remote.branches["cycle"])
		}
	})

	t.Run("sync does not merge or push", func(t *testing.T) {
		t.Parallel()
		remote := &fakeRemote{branches: map[string]string{"main": "t1", "cycle": "c1"}}
		m := newDryRun(remote, &fakePRs{})

		rot, err := m.SyncWithMain(context.Background())
		if err != nil {
			t.Fatalf("SyncWithMain: %v", err)
		}
		if rot != nil {
			t.Errorf("rotation = %+v, want nil", rot)
		}
		if len(remote.mutations) != 0 {
			t.Errorf("dry run synced: %v", remote.mutations)
		}
		if remote.branches["cycle"] != "c1" {
			t.Errorf("cycle = %q, want untouched c1", remote.branches["cycle"])
		}
	})

	t.Run("session base branch is named but not pushed", func(t *testing.T) {
		t.Parallel()
		remote := &fakeRemote{branches: map[string]string{"cycle": "c9"}}
		m := newDryRun(remote, &fakePRs{})

		got := m.CreateSessionBaseBranch(context.Background(), "cycle", "builder", "12")
		if got != "cycle-builder-pr12" {
			t.Errorf("branch = %q, want cycle-builder-pr12", got)
		}
		if len(remote.mutations) != 0 {
			t.Errorf("dry run pushed: %v", remote.mutations)
		}
		if _, exists := remote.branches[got]; exists {
			t.Error("dry run created the session base branch")
		}
	})
}

func TestCreateSessionBaseBranch(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	remote := &fakeRemote{branches: map[string]string{"cycle": "c9"}}
	m := branchmanager.New(remote, &fakePRs{}, &fakeSprints{sprint: 1}, "acme", "widgets",
		branchmanager.WithClock(func() time.Time { return fixed }))

	t.Run("continuing from a PR", func(t *testing.T) {
		got := m.CreateSessionBaseBranch(context.Background(), "cycle", "builder", "12")
		if got != "cycle-builder-pr12" {
			t.Errorf("branch = %q, want cycle-builder-pr12", got)
		}
		if remote.branches[got] != "c9" {
			t.Errorf("branch tip = %q, want c9", remote.branches[got])
		}
	})

	t.Run("fresh start is timestamped", func(t *testing.T) {
		got := m.CreateSessionBaseBranch(context.Background(), "cycle", "tester", "")
		if got != "cycle-tester-main-202608251430" {
			t.Errorf("branch = %q, want cycle-tester-main-202608251430", got)
		}
	})

	t.Run("failure falls back to base", func(t *testing.T) {
		got := m.CreateSessionBaseBranch(context.Background(), "ghost", "builder", "12")
		if got != "ghost" {
			t.Errorf("branch = %q, want fallback to ghost", got)
		}
	})
}
