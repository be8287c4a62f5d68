/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcilemanager

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"chainguard.dev/cyclescheduler/agentsession"
	"chainguard.dev/cyclescheduler/scheduler"
	"github.com/chainguard-dev/clog"
)

// maxDiffSize bounds how much diff text goes into the prompt.
const maxDiffSize = 50000

const truncationMarker = "\n[...diff truncated due to size...]\n"

// DiffSource fetches a PR's unified diff.
type DiffSource interface {
	GetDiff(ctx context.Context, owner, repo string, number int) (string, error)
}

// SessionCreator creates agent sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, req agentsession.CreateSessionRequest) (*agentsession.Session, error)
}

// Manager creates at most one reconciliation session per sprint.
type Manager struct {
	sessions SessionCreator
	diffs    DiffSource
	tracker  Tracker
	owner    string
	repo     string
	branch   string
	dryRun   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBranch overrides the integration branch the session targets.
func WithBranch(branch string) Option {
	return func(m *Manager) {
		m.branch = branch
	}
}

// WithDryRun suppresses session creation and ledger writes.
func WithDryRun(dryRun bool) Option {
	return func(m *Manager) {
		m.dryRun = dryRun
	}
}

// New returns a Manager for owner/repo.
func New(sessions SessionCreator, diffs DiffSource, tracker Tracker, owner, repo string, opts ...Option) *Manager {
	m := &Manager{
		sessions: sessions,
		diffs:    diffs,
		tracker:  tracker,
		owner:    owner,
		repo:     repo,
		branch:   scheduler.DefaultIntegrationBranch,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var reconcilePrompt = template.Must(template.New("reconcile").Parse(
	`The integration branch {{.Branch}} drifted during sprint {{.Sprint}} and was
rotated away. The drifted work is preserved in PR #{{.BackupPR}}.

Review the diff below and reapply the valuable changes onto the current
{{.Branch}} branch. Resolve conflicts in favor of the current trunk
history where the two disagree. Skip changes that no longer apply.

Diff of the drifted work:

{{.Diff}}
`))

// ReconcileDrift creates the sprint's reconciliation session from the
// backup PR's diff. It returns the created session id, or "" when
// nothing was done. Every failure here degrades: reconciliation is
// best-effort recovery, never a reason to block the cycle.
func (m *Manager) ReconcileDrift(ctx context.Context, backupPR, sprint int) (string, error) {
	log := clog.FromContext(ctx).With("sprint", sprint, "backup_pr", backupPR)

	ok, err := m.tracker.CanReconcile(sprint)
	if err != nil {
		// A broken ledger reads as "maybe already attempted": creating a
		// duplicate session is worse than skipping a tick.
		log.Warnf("Reading reconciliation ledger: %v", err)
		return "", nil
	}
	if !ok {
		log.Infof("Sprint %d already has a reconciliation attempt, skipping", sprint)
		return "", nil
	}

	diff, err := m.diffs.GetDiff(ctx, m.owner, m.repo, backupPR)
	if err != nil {
		log.Warnf("Fetching diff for backup PR #%d: %v", backupPR, err)
		return "", nil
	}
	if strings.TrimSpace(diff) == "" {
		log.Infof("Backup PR #%d has an empty diff, nothing to reconcile", backupPR)
		return "", nil
	}
	if len(diff) > maxDiffSize {
		diff = diff[:maxDiffSize] + truncationMarker
	}

	var prompt strings.Builder
	err = reconcilePrompt.Execute(&prompt, struct {
		Branch   string
		Sprint   int
		BackupPR int
		Diff     string
	}{m.branch, sprint, backupPR, diff})
	if err != nil {
		log.Warnf("Rendering reconciliation prompt: %v", err)
		return "", nil
	}

	if m.dryRun {
		log.Infof("Dry run: would create reconciliation session for sprint %d", sprint)
		return scheduler.DryRunSessionID, nil
	}

	s, err := m.sessions.CreateSession(ctx, agentsession.CreateSessionRequest{
		Prompt:         prompt.String(),
		Owner:          m.owner,
		Repo:           m.repo,
		Branch:         m.branch,
		Title:          fmt.Sprintf("Reconciliation: sprint %d drift", sprint),
		AutomationMode: scheduler.AutomationModeAutoPR,
	})
	if err != nil {
		log.Warnf("Creating reconciliation session: %v", err)
		return "", nil
	}

	// Mark as soon as the session exists; a failed mark risks one extra
	// attempt next sprint rotation, never an unbounded stream.
	if err := m.tracker.MarkAttempted(sprint, s.ID); err != nil {
		log.Warnf("Recording reconciliation attempt: %v", err)
	}
	log.Infof("Created reconciliation session %s", s.ID)
	return s.ID, nil
}
