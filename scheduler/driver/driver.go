/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package driver

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/cyclescheduler/githost"
	"chainguard.dev/cyclescheduler/personas"
	"chainguard.dev/cyclescheduler/scheduler"
	"chainguard.dev/cyclescheduler/scheduler/branchmanager"
	"chainguard.dev/cyclescheduler/scheduler/cyclemanager"
	"chainguard.dev/cyclescheduler/scheduler/sessionmanager"
	"chainguard.dev/cyclescheduler/sprints"
	"github.com/chainguard-dev/clog"
)

// BranchManager is the integration-branch surface the driver consumes.
type BranchManager interface {
	EnsureHealthy(ctx context.Context) (*branchmanager.Rotation, error)
	SyncWithMain(ctx context.Context) (*branchmanager.Rotation, error)
	CreateSessionBaseBranch(ctx context.Context, base, personaID, basePRNumber string) string
	Branch() string
}

// PRManager resolves and merges session PRs.
type PRManager interface {
	FindBySessionID(prs []githost.PRInfo, sessionID string) *githost.PRInfo
	IsGreen(pr *githost.PRInfo) bool
	MergeIntoIntegrationBranch(ctx context.Context, number int) error
	MarkReady(ctx context.Context, number int) error
	EnsureIntegrationPRExists(ctx context.Context) int
}

// CycleManager derives the rotation position.
type CycleManager interface {
	FindLastCycleSession(ctx context.Context, sessions cyclemanager.Sessions, finder cyclemanager.PRFinder, openPRs []githost.PRInfo) (*scheduler.CycleState, error)
}

// SessionOrchestrator creates and evaluates sessions.
type SessionOrchestrator interface {
	CreateSession(ctx context.Context, req scheduler.SessionRequest) (string, error)
	EvaluateSession(ctx context.Context, sessionID string) (sessionmanager.Decision, error)
}

// Reconciler starts drift-recovery sessions.
type Reconciler interface {
	ReconcileDrift(ctx context.Context, backupPR, sprint int) (string, error)
}

// Host is the hosting-platform slice the driver itself needs; it also
// satisfies cyclemanager.PRFinder.
type Host interface {
	ListOpenPRs(ctx context.Context, owner, repo string) ([]githost.PRInfo, error)
	GetPR(ctx context.Context, owner, repo string, number int) (*githost.PRInfo, error)
	FindPRBySessionAnyState(ctx context.Context, owner, repo, sessionID string) (*githost.PRInfo, error)
}

// Config carries the repository coordinates and invocation modifiers.
type Config struct {
	Owner  string
	Repo   string
	DryRun bool
}

// Deps are the collaborators a Driver composes. All of them are
// required except AllPersonas, which defaults to CyclePersonas.
type Deps struct {
	Branches BranchManager
	PRs      PRManager
	Cycle    CycleManager
	Sessions SessionOrchestrator
	Recon    Reconciler
	Sprints  sprints.Store
	Platform cyclemanager.Sessions
	Host     Host

	// CyclePersonas is the rotation order; AllPersonas additionally
	// includes scheduled-only personas.
	CyclePersonas []scheduler.PersonaConfig
	AllPersonas   []scheduler.PersonaConfig
}

// Driver runs scheduler ticks.
type Driver struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// New returns a Driver.
func New(cfg Config, deps Deps, opts ...Option) (*Driver, error) {
	if len(deps.CyclePersonas) == 0 {
		return nil, fmt.Errorf("cycle persona list is empty")
	}
	if deps.AllPersonas == nil {
		deps.AllPersonas = deps.CyclePersonas
	}
	d := &Driver{cfg: cfg, deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Tick executes one scheduler pass. It returns an error only for the
// fatal kinds (BranchError, MergeError) and for session-creation
// failures; everything else degrades to a logged warning and a retry on
// the next tick.
func (d *Driver) Tick(ctx context.Context) error {
	log := clog.FromContext(ctx).With("repo", d.cfg.Owner+"/"+d.cfg.Repo)
	log.Infof("Starting scheduler tick (dry_run=%t)", d.cfg.DryRun)

	rot, err := d.deps.Branches.EnsureHealthy(ctx)
	if err != nil {
		return err
	}
	d.maybeReconcile(ctx, rot)

	openPRs, err := d.deps.Host.ListOpenPRs(ctx, d.cfg.Owner, d.cfg.Repo)
	if err != nil {
		log.Warnf("Listing open PRs, proceeding without them: %v", err)
		openPRs = nil
	}

	state, err := d.deps.Cycle.FindLastCycleSession(ctx, d.deps.Platform, d.deps.Host, openPRs)
	if err != nil {
		// Without a trustworthy cycle position, creating a session risks
		// duplicates. Wait for the next tick.
		log.Warnf("Cannot determine cycle position, waiting: %v", err)
		return nil
	}

	if state.LastSessionID != "" {
		proceed, err := d.resolveLastSession(ctx, state, openPRs)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
		if state.ShouldIncrementSprint {
			d.incrementSprint(ctx)
		}
	}

	return d.startNextSession(ctx, state)
}

// resolveLastSession decides whether the previous persona's work is
// settled. It returns true when the cycle should advance to the next
// persona this tick.
func (d *Driver) resolveLastSession(ctx context.Context, state *scheduler.CycleState, openPRs []githost.PRInfo) (bool, error) {
	log := clog.FromContext(ctx).With("session", state.LastSessionID, "persona", state.LastPersonaID)

	pr := d.deps.PRs.FindBySessionID(openPRs, state.LastSessionID)
	if pr == nil {
		// No open PR governs; the session state machine decides.
		dec, err := d.deps.Sessions.EvaluateSession(ctx, state.LastSessionID)
		if err != nil {
			log.Warnf("Evaluating session, waiting: %v", err)
			return false, nil
		}
		if dec == sessionmanager.DecisionWait {
			return false, nil
		}
		log.Infof("Advancing past session without a PR")
		return true, nil
	}

	// An open PR exists: the PR governs. Refresh for checks and
	// mergeability.
	full, err := d.deps.Host.GetPR(ctx, d.cfg.Owner, d.cfg.Repo, pr.Number)
	if err != nil {
		log.Warnf("Refreshing PR #%d, waiting: %v", pr.Number, err)
		return false, nil
	}

	if full.IsDraft {
		if d.cfg.DryRun {
			log.Infof("Dry run: would mark PR #%d ready for review", full.Number)
			return false, nil
		}
		if err := d.deps.PRs.MarkReady(ctx, full.Number); err != nil {
			log.Warnf("Marking PR #%d ready: %v", full.Number, err)
		} else {
			log.Infof("Marked PR #%d ready for review", full.Number)
		}
		// Wait for checks to run against the promoted PR.
		return false, nil
	}

	if !d.deps.PRs.IsGreen(full) {
		log.Infof("PR #%d is not green yet, waiting", full.Number)
		return false, nil
	}

	if d.cfg.DryRun {
		log.Infof("Dry run: would merge PR #%d and sync with trunk", full.Number)
		return true, nil
	}

	if err := d.deps.PRs.MergeIntoIntegrationBranch(ctx, full.Number); err != nil {
		return false, err
	}

	rot, err := d.deps.Branches.SyncWithMain(ctx)
	if err != nil {
		return false, err
	}
	d.maybeReconcile(ctx, rot)

	if n := d.deps.PRs.EnsureIntegrationPRExists(ctx); n > 0 {
		log.Infof("Integration PR #%d is open", n)
	}
	return true, nil
}

func (d *Driver) maybeReconcile(ctx context.Context, rot *branchmanager.Rotation) {
	if rot == nil || rot.BackupPR == 0 {
		return
	}
	if _, err := d.deps.Recon.ReconcileDrift(ctx, rot.BackupPR, rot.Sprint); err != nil {
		clog.FromContext(ctx).Warnf("Reconciling sprint %d drift: %v", rot.Sprint, err)
	}
}

func (d *Driver) incrementSprint(ctx context.Context) {
	log := clog.FromContext(ctx)
	if d.cfg.DryRun {
		log.Infof("Dry run: would increment sprint counter")
		return
	}
	sprint, err := d.deps.Sprints.Increment(ctx)
	if err != nil {
		log.Warnf("Incrementing sprint counter: %v", err)
		return
	}
	log.Infof("Cycle wrapped, sprint is now %d", sprint)
}

func (d *Driver) startNextSession(ctx context.Context, state *scheduler.CycleState) error {
	next := d.deps.CyclePersonas[state.NextPersonaIndex]
	log := clog.FromContext(ctx).With("persona", next.ID)

	base := d.deps.Branches.CreateSessionBaseBranch(ctx, d.deps.Branches.Branch(), next.ID, state.BasePRNumber)

	id, err := d.deps.Sessions.CreateSession(ctx, scheduler.SessionRequest{
		PersonaID:      next.ID,
		Prompt:         next.Prompt,
		Owner:          d.cfg.Owner,
		Repo:           d.cfg.Repo,
		Branch:         base,
		Title:          sessionTitle(next, d.cfg.Repo),
		AutomationMode: scheduler.AutomationModeAutoPR,
	})
	if err != nil {
		return fmt.Errorf("starting next persona session: %w", err)
	}
	log.Infof("Tick complete, session %s running on %s", id, base)
	return nil
}

func sessionTitle(p scheduler.PersonaConfig, repo string) string {
	name := p.Title
	if name == "" {
		name = p.ID
	}
	return fmt.Sprintf("%s: automated cycle task for %s", name, repo)
}

// Run is one full scheduler invocation. With runAll or promptID set it
// only creates the requested one-shot sessions; otherwise it executes a
// cycle tick and then the scheduled-persona pass, so personas carrying a
// cron schedule fire on the default invocation too.
func (d *Driver) Run(ctx context.Context, runAll bool, promptID string) error {
	if runAll || promptID != "" {
		return d.RunScheduled(ctx, runAll, promptID)
	}
	if err := d.Tick(ctx); err != nil {
		return err
	}
	return d.RunScheduled(ctx, false, "")
}

// RunScheduled creates one-shot sessions outside the cycle: every
// persona when runAll is set, exactly one when promptID names it, and
// otherwise each persona whose cron schedule matches the current time.
func (d *Driver) RunScheduled(ctx context.Context, runAll bool, promptID string) error {
	log := clog.FromContext(ctx)
	now := d.now()

	rot, err := d.deps.Branches.EnsureHealthy(ctx)
	if err != nil {
		return err
	}
	d.maybeReconcile(ctx, rot)

	ran := 0
	for _, p := range d.deps.AllPersonas {
		switch {
		case promptID != "":
			if p.ID != promptID {
				continue
			}
		case runAll:
			// Everyone runs.
		default:
			if p.Schedule == "" || !personas.ScheduleMatches(p.Schedule, now) {
				continue
			}
		}

		base := d.deps.Branches.CreateSessionBaseBranch(ctx, d.deps.Branches.Branch(), p.ID, "")
		id, err := d.deps.Sessions.CreateSession(ctx, scheduler.SessionRequest{
			PersonaID:      p.ID,
			Prompt:         p.Prompt,
			Owner:          d.cfg.Owner,
			Repo:           d.cfg.Repo,
			Branch:         base,
			Title:          sessionTitle(p, d.cfg.Repo),
			AutomationMode: scheduler.AutomationModeAutoPR,
		})
		if err != nil {
			return fmt.Errorf("starting scheduled session for %s: %w", p.ID, err)
		}
		log.Infof("Started scheduled session %s for %s", id, p.ID)
		ran++
	}

	if promptID != "" && ran == 0 {
		return fmt.Errorf("unknown persona %q", promptID)
	}
	log.Infof("Scheduled run complete, %d session(s) started", ran)
	return nil
}
