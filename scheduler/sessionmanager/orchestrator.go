/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sessionmanager

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/cyclescheduler/agentsession"
	"chainguard.dev/cyclescheduler/scheduler"
	"github.com/chainguard-dev/clog"
)

// Decision is what the tick should do about the session under
// evaluation.
type Decision int

const (
	// DecisionWait leaves the session alone; the next tick re-evaluates.
	DecisionWait Decision = iota
	// DecisionAdvance gives up on the session and moves the cycle on.
	DecisionAdvance
)

// DefaultStuckTimeout is how long a session may sit without producing a
// PR before the cycle moves on without it.
const DefaultStuckTimeout = 30 * time.Minute

// nudgeMessage unblocks sessions paused on a question no human will
// answer.
const nudgeMessage = "Please make the best decision possible and proceed autonomously to complete the task."

// finalizeMessage asks a finished session that produced no PR to submit
// its work.
const finalizeMessage = "The session looks finished but no pull request was created. " +
	"Please finalize the work by opening a pull request with the changes, " +
	"or end the session if there is nothing to submit."

// Orchestrator evaluates and creates sessions.
type Orchestrator struct {
	client  agentsession.Client
	timeout time.Duration
	now     func() time.Time
	dryRun  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout overrides the stuck-session timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithDryRun suppresses every mutating platform call.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = dryRun
	}
}

// New returns an Orchestrator over the session platform client.
func New(client agentsession.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		timeout: DefaultStuckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateSession creates a session for the request. In dry-run mode
// nothing is created and the sentinel id is returned.
func (o *Orchestrator) CreateSession(ctx context.Context, req scheduler.SessionRequest) (string, error) {
	log := clog.FromContext(ctx).With("persona", req.PersonaID, "branch", req.Branch)

	if o.dryRun {
		log.Infof("Dry run: would create session %q", req.Title)
		return scheduler.DryRunSessionID, nil
	}

	s, err := o.client.CreateSession(ctx, agentsession.CreateSessionRequest{
		Prompt:              req.Prompt,
		Owner:               req.Owner,
		Repo:                req.Repo,
		Branch:              req.Branch,
		Title:               req.Title,
		AutomationMode:      req.AutomationMode,
		RequirePlanApproval: req.RequirePlanApproval,
	})
	if err != nil {
		return "", fmt.Errorf("creating session for %s: %w", req.PersonaID, err)
	}
	log.Infof("Created session %s", s.ID)
	return s.ID, nil
}

// EvaluateSession inspects a session that is not (yet) represented by a
// PR and decides whether the cycle waits or advances. Interventions
// (plan approval, nudges, finalize requests) happen here as side
// effects; their failures degrade to warnings because the next tick
// retries them.
func (o *Orchestrator) EvaluateSession(ctx context.Context, sessionID string) (Decision, error) {
	log := clog.FromContext(ctx).With("session", sessionID)

	s, err := o.client.GetSession(ctx, sessionID)
	if err != nil {
		return DecisionWait, fmt.Errorf("getting session %s: %w", sessionID, err)
	}

	elapsed := o.now().Sub(s.CreateTime)
	stuck := elapsed >= o.timeout

	switch s.State {
	case agentsession.StateAwaitingPlanApproval:
		if o.dryRun {
			log.Infof("Dry run: would approve plan")
			return DecisionWait, nil
		}
		if err := o.client.ApprovePlan(ctx, sessionID); err != nil {
			log.Warnf("Approving plan: %v", err)
		} else {
			log.Infof("Approved plan")
		}
		return DecisionWait, nil

	case agentsession.StateAwaitingUserFeedback:
		if o.dryRun {
			log.Infof("Dry run: would nudge session")
			return DecisionWait, nil
		}
		if err := o.client.SendMessage(ctx, sessionID, nudgeMessage); err != nil {
			log.Warnf("Nudging session: %v", err)
		} else {
			log.Infof("Nudged session awaiting feedback")
		}
		return DecisionWait, nil

	case agentsession.StateCompleted, agentsession.StateFailed:
		if stuck {
			log.Warnf("Session terminal (%s) without a PR for %s, advancing", s.State, elapsed.Round(time.Minute))
			return DecisionAdvance, nil
		}
		if o.dryRun {
			log.Infof("Dry run: would request finalization")
			return DecisionWait, nil
		}
		if err := o.client.SendMessage(ctx, sessionID, finalizeMessage); err != nil {
			log.Warnf("Requesting finalization: %v", err)
		} else {
			log.Infof("Requested finalization of terminal session without PR")
		}
		return DecisionWait, nil

	case agentsession.StateCancelled:
		log.Infof("Session cancelled, advancing")
		return DecisionAdvance, nil

	case agentsession.StateCreated, agentsession.StatePending, agentsession.StateInProgress:
		if stuck {
			log.Warnf("Session stuck in %s for %s, advancing without it", s.State, elapsed.Round(time.Minute))
			return DecisionAdvance, nil
		}
		return DecisionWait, nil

	default:
		// Unknown states wait: advancing on a state this code does not
		// understand risks duplicate sessions.
		log.Warnf("Unknown session state %q, waiting", s.State)
		return DecisionWait, nil
	}
}
