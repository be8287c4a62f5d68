/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prmanager

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"chainguard.dev/cyclescheduler/githost"
	"chainguard.dev/cyclescheduler/scheduler"
	"github.com/chainguard-dev/clog"
)

// Host is the slice of the hosting platform the PR manager consumes.
type Host interface {
	ListOpenPRs(ctx context.Context, owner, repo string) ([]githost.PRInfo, error)
	GetPR(ctx context.Context, owner, repo string, number int) (*githost.PRInfo, error)
	CreatePR(ctx context.Context, owner, repo, head, base, title, body string) (*githost.PRInfo, error)
	EditPRBase(ctx context.Context, owner, repo string, number int, base string) error
	MergePR(ctx context.Context, owner, repo string, number int) error
	MarkReady(ctx context.Context, owner, repo string, number int) error
}

// AheadCounter reports how far a branch is ahead of a base.
type AheadCounter interface {
	CommitsAhead(ctx context.Context, base, branch string) (int, error)
}

// Manager implements PR lifecycle decisions for one repository.
type Manager struct {
	host   Host
	remote AheadCounter
	owner  string
	repo   string
	branch string
	trunk  string
	retry  RetryConfig
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

// WithRetryConfig overrides the merge retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(m *Manager) {
		m.retry = cfg
	}
}

// New returns a Manager for owner/repo.
func New(host Host, remote AheadCounter, owner, repo string, opts ...Option) *Manager {
	m := &Manager{
		host:   host,
		remote: remote,
		owner:  owner,
		repo:   repo,
		branch: scheduler.DefaultIntegrationBranch,
		trunk:  scheduler.DefaultTrunkBranch,
		retry:  DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindBySessionID returns the open PR created by the session, or nil.
func (m *Manager) FindBySessionID(prs []githost.PRInfo, sessionID string) *githost.PRInfo {
	return githost.FindBySessionID(prs, sessionID)
}

// passingCheckStates are check outcomes that do not block a merge.
var passingCheckStates = map[string]bool{
	"SUCCESS":   true,
	"NEUTRAL":   true,
	"SKIPPED":   true,
	"COMPLETED": true,
}

// IsGreen reports whether the PR is safe to merge: mergeable is known
// true and every check landed in a passing state. A PR with no checks at
// all is green; unknown mergeability is not.
func (m *Manager) IsGreen(pr *githost.PRInfo) bool {
	if pr == nil || pr.Mergeable == nil || !*pr.Mergeable {
		return false
	}
	for _, c := range pr.Checks {
		if !passingCheckStates[strings.ToUpper(c.Status)] {
			return false
		}
	}
	return true
}

// MergeIntoIntegrationBranch retargets the PR at the integration branch
// and merges it, retrying transient failures. Permission failures and
// retry exhaustion surface as MergeError: the tick must not advance past
// an unmerged PR.
func (m *Manager) MergeIntoIntegrationBranch(ctx context.Context, number int) error {
	log := clog.FromContext(ctx).With("pr", number)

	err := retryWithBackoff(ctx, m.retry, "merge_pr", func(err error) bool {
		return !isPermissionDenied(err)
	}, func() error {
		if err := m.host.EditPRBase(ctx, m.owner, m.repo, number, m.branch); err != nil {
			return err
		}
		return m.host.MergePR(ctx, m.owner, m.repo, number)
	})
	if err != nil {
		return &scheduler.MergeError{PRNumber: number, Err: err}
	}

	log.Infof("Merged PR #%d into %s", number, m.branch)
	return nil
}

// MarkReady promotes a draft PR to ready for review.
func (m *Manager) MarkReady(ctx context.Context, number int) error {
	return m.host.MarkReady(ctx, m.owner, m.repo, number)
}

var integrationPRBody = template.Must(template.New("integration-pr").Parse(
	`This pull request tracks the completed cycle work on ` + "`{{.Branch}}`" + `
that is ready to land on ` + "`{{.Trunk}}`" + `.

Opened automatically by the cycle scheduler. It is kept open while the
integration branch is ahead of the trunk.
`))

// EnsureIntegrationPRExists keeps a standing PR from the integration
// branch to the trunk whenever the branch is ahead. Returns the PR
// number, or 0 when there is nothing to integrate. Every failure here is
// non-fatal: the next tick gets another chance.
func (m *Manager) EnsureIntegrationPRExists(ctx context.Context) int {
	log := clog.FromContext(ctx)

	prs, err := m.host.ListOpenPRs(ctx, m.owner, m.repo)
	if err != nil {
		log.Warnf("Listing open PRs: %v", err)
		return 0
	}
	for _, pr := range prs {
		if pr.HeadRef == m.branch && pr.BaseRef == m.trunk {
			return pr.Number
		}
	}

	ahead, err := m.remote.CommitsAhead(ctx, m.trunk, m.branch)
	if err != nil {
		log.Warnf("Counting commits ahead of %s: %v", m.trunk, err)
		return 0
	}
	if ahead == 0 {
		return 0
	}

	var body strings.Builder
	if err := integrationPRBody.Execute(&body, struct{ Branch, Trunk string }{m.branch, m.trunk}); err != nil {
		log.Warnf("Rendering integration PR body: %v", err)
		return 0
	}
	title := fmt.Sprintf("Integrate %s into %s", m.branch, m.trunk)

	pr, err := m.host.CreatePR(ctx, m.owner, m.repo, m.branch, m.trunk, title, body.String())
	if err != nil {
		log.Warnf("Creating integration PR: %v", err)
		return 0
	}
	log.Infof("Opened integration PR #%d (%d commits ahead)", pr.Number, ahead)
	return pr.Number
}
