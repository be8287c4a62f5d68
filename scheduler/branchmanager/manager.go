/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package branchmanager

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/cyclescheduler/githost"
	"chainguard.dev/cyclescheduler/gitremote"
	"chainguard.dev/cyclescheduler/scheduler"
	"github.com/chainguard-dev/clog"
)

// Remote is the slice of version-control operations the branch manager
// consumes.
type Remote interface {
	Fetch(ctx context.Context) error
	BranchExists(ctx context.Context, branch string) (bool, error)
	ResolveRef(ctx context.Context, ref string) (string, error)
	PushRef(ctx context.Context, sha, branch string, force bool) error
	CopyBranch(ctx context.Context, src, dst string) error
	MergeIntoBranch(ctx context.Context, branch, other string) error
	MergeCheck(ctx context.Context, ours, theirs string) (gitremote.MergeResult, error)
}

// PRCreator opens pull requests; used for best-effort backup PRs.
type PRCreator interface {
	CreatePR(ctx context.Context, owner, repo, head, base, title, body string) (*githost.PRInfo, error)
}

// SprintSource reads the active sprint number.
type SprintSource interface {
	Current(ctx context.Context) (int, error)
}

// Rotation reports a completed drift rotation so the caller can kick off
// reconciliation of the backed-up work.
type Rotation struct {
	// Sprint is the sprint the backup branch is named for.
	Sprint int

	// BackupBranch holds the rotated history.
	BackupBranch string

	// BackupPR is the best-effort PR opened from the backup branch, 0
	// when opening it failed.
	BackupPR int
}

// Manager owns the integration branch for one repository.
type Manager struct {
	remote  Remote
	prs     PRCreator
	sprints SprintSource
	owner   string
	repo    string
	branch  string
	trunk   string
	prefix  string
	dryRun  bool
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBranches overrides the integration and trunk branch names.
func WithBranches(integration, trunk string) Option {
	return func(m *Manager) {
		m.branch = integration
		m.trunk = trunk
	}
}

// WithPrefix overrides the prefix for session base branches.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithDryRun suppresses every remote mutation; would-be pushes, merges
// and rotations are logged instead.
func WithDryRun(dryRun bool) Option {
	return func(m *Manager) {
		m.dryRun = dryRun
	}
}

// New returns a Manager for owner/repo.
func New(remote Remote, prs PRCreator, sprints SprintSource, owner, repo string, opts ...Option) *Manager {
	m := &Manager{
		remote:  remote,
		prs:     prs,
		sprints: sprints,
		owner:   owner,
		repo:    repo,
		branch:  scheduler.DefaultIntegrationBranch,
		trunk:   scheduler.DefaultTrunkBranch,
		prefix:  scheduler.DefaultBranchPrefix,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Branch returns the canonical integration branch name.
func (m *Manager) Branch() string {
	return m.branch
}

// EnsureHealthy guarantees the integration branch exists and can still
// take the trunk. It returns a non-nil Rotation when the drift path ran.
// Any path that cannot re-establish the branch returns BranchError.
func (m *Manager) EnsureHealthy(ctx context.Context) (*Rotation, error) {
	log := clog.FromContext(ctx).With("branch", m.branch)

	if err := m.remote.Fetch(ctx); err != nil {
		return nil, &scheduler.BranchError{Err: err}
	}

	exists, err := m.remote.BranchExists(ctx, m.branch)
	if err != nil {
		return nil, &scheduler.BranchError{Err: err}
	}

	if m.dryRun {
		switch {
		case !exists:
			log.Infof("Dry run: would create %s from %s", m.branch, m.trunk)
		case m.isDrifted(ctx):
			log.Infof("Dry run: would rotate drifted %s and recreate it from %s", m.branch, m.trunk)
		default:
			log.Infof("Dry run: would merge %s into %s", m.trunk, m.branch)
		}
		return nil, nil
	}

	var rot *Rotation
	if exists {
		if !m.isDrifted(ctx) {
			if err := m.remote.MergeIntoBranch(ctx, m.branch, m.trunk); err == nil {
				return nil, nil
			} else {
				log.Warnf("Merging %s into %s failed, treating as drift: %v", m.trunk, m.branch, err)
			}
		}
		rot, err = m.rotate(ctx)
		if err != nil {
			return nil, &scheduler.BranchError{Err: err}
		}
	}

	if err := m.recreateFromTrunk(ctx); err != nil {
		return rot, &scheduler.BranchError{Err: err}
	}
	if exists {
		log.Infof("Recreated %s from %s after rotation", m.branch, m.trunk)
	} else {
		log.Infof("Created missing %s from %s", m.branch, m.trunk)
	}
	return rot, nil
}

// SyncWithMain merges the trunk into the integration branch after a PR
// landed. A conflicting merge takes the same rotate-and-recreate path as
// EnsureHealthy.
func (m *Manager) SyncWithMain(ctx context.Context) (*Rotation, error) {
	log := clog.FromContext(ctx).With("branch", m.branch)

	if err := m.remote.Fetch(ctx); err != nil {
		return nil, &scheduler.BranchError{Err: err}
	}

	if m.dryRun {
		log.Infof("Dry run: would merge %s into %s and push", m.trunk, m.branch)
		return nil, nil
	}

	if err := m.remote.MergeIntoBranch(ctx, m.branch, m.trunk); err == nil {
		return nil, nil
	} else {
		log.Warnf("Syncing %s from %s conflicted, rotating: %v", m.branch, m.trunk, err)
	}

	rot, err := m.rotate(ctx)
	if err != nil {
		return nil, &scheduler.BranchError{Err: err}
	}
	if err := m.recreateFromTrunk(ctx); err != nil {
		return rot, &scheduler.BranchError{Err: err}
	}
	log.Infof("Recreated %s from %s after conflicted sync", m.branch, m.trunk)
	return rot, nil
}

// isDrifted dry-runs the trunk merge. Tool failures count as not
// drifted: a broken merge-tree must not trigger a rotation that moves
// work aside.
func (m *Manager) isDrifted(ctx context.Context) bool {
	res, err := m.remote.MergeCheck(ctx, m.branch, m.trunk)
	if err != nil {
		clog.FromContext(ctx).Warnf("Merge check %s vs %s failed, assuming no drift: %v", m.branch, m.trunk, err)
		return false
	}
	return res == gitremote.MergeConflict
}

const backupPRBody = `The integration branch drifted out of mergeability with the trunk and
was rotated. This PR preserves the drifted work for review and
reconciliation; the integration branch has been recreated from the
trunk tip.
`

// rotate copies the integration branch to its sprint backup and opens a
// best-effort PR from the backup. Failure to copy is fatal (the drifted
// history would otherwise be lost by recreation); failure to open the PR
// is only a warning.
func (m *Manager) rotate(ctx context.Context) (*Rotation, error) {
	log := clog.FromContext(ctx)

	sprint, err := m.sprints.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sprint counter: %w", err)
	}
	backup := fmt.Sprintf("%s-sprint-%d", m.branch, sprint)

	if err := m.remote.CopyBranch(ctx, m.branch, backup); err != nil {
		return nil, fmt.Errorf("backing up %s to %s: %w", m.branch, backup, err)
	}
	log.Infof("Rotated drifted %s to %s", m.branch, backup)

	rot := &Rotation{Sprint: sprint, BackupBranch: backup}
	title := fmt.Sprintf("Sprint %d - Drifted work from %s", sprint, m.branch)
	pr, err := m.prs.CreatePR(ctx, m.owner, m.repo, backup, m.trunk, title, backupPRBody)
	if err != nil {
		log.Warnf("Opening backup PR for %s: %v", backup, err)
	} else {
		rot.BackupPR = pr.Number
	}
	return rot, nil
}

func (m *Manager) recreateFromTrunk(ctx context.Context) error {
	sha, err := m.remote.ResolveRef(ctx, m.trunk)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", m.trunk, err)
	}
	if err := m.remote.PushRef(ctx, sha, m.branch, true); err != nil {
		return fmt.Errorf("recreating %s at %s: %w", m.branch, sha, err)
	}
	return nil
}

// CreateSessionBaseBranch pushes a per-session branch at base's tip and
// returns its name. On any failure it logs the fallback and returns base
// unchanged, so session creation still proceeds against a known-good
// branch.
func (m *Manager) CreateSessionBaseBranch(ctx context.Context, base, personaID, basePRNumber string) string {
	var name string
	if basePRNumber != "" {
		name = fmt.Sprintf("%s-%s-pr%s", m.prefix, personaID, basePRNumber)
	} else {
		name = fmt.Sprintf("%s-%s-main-%s", m.prefix, personaID, m.now().UTC().Format("200601021504"))
	}

	log := clog.FromContext(ctx).With("persona", personaID, "base", base)

	if m.dryRun {
		log.Infof("Dry run: would create session base branch %s from %s", name, base)
		return name
	}

	sha, err := m.remote.ResolveRef(ctx, base)
	if err != nil {
		log.Warnf("Resolving %s failed, falling back to last known-good branch: %v", base, err)
		return base
	}
	if err := m.remote.PushRef(ctx, sha, name, true); err != nil {
		log.Warnf("Pushing %s failed, falling back to last known-good branch: %v", name, err)
		return base
	}
	log.Infof("Created session base branch %s at %s", name, sha)
	return name
}
