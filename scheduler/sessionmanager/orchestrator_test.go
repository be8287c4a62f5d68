/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sessionmanager_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chainguard.dev/cyclescheduler/agentsession"
	"chainguard.dev/cyclescheduler/scheduler"
	"chainguard.dev/cyclescheduler/scheduler/sessionmanager"
)

type fakeClient struct {
	session   *agentsession.Session
	getErr    error
	created   []agentsession.CreateSessionRequest
	approved  []string
	messages  []string
	createErr error
}

func (f *fakeClient) ListSessions(context.Context) ([]agentsession.Session, error) {
	return nil, nil
}

func (f *fakeClient) GetSession(context.Context, string) (*agentsession.Session, error) {
	return f.session, f.getErr
}

func (f *fakeClient) CreateSession(_ context.Context, req agentsession.CreateSessionRequest) (*agentsession.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &agentsession.Session{ID: "new-session"}, nil
}

func (f *fakeClient) ApprovePlan(_ context.Context, id string) error {
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeClient) SendMessage(_ context.Context, _, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func newOrchestrator(c *fakeClient, opts ...sessionmanager.Option) *sessionmanager.Orchestrator {
	base := []sessionmanager.Option{
		sessionmanager.WithClock(func() time.Time { return testNow }),
	}
	return sessionmanager.New(c, append(base, opts...)...)
}

func sessionIn(state agentsession.State, age time.Duration) *agentsession.Session {
	return &agentsession.Session{
		ID:         "s1",
		State:      state,
		CreateTime: testNow.Add(-age),
	}
}

func TestEvaluateApprovesPendingPlan(t *testing.T) {
	t.Parallel()
	c := &fakeClient{session: sessionIn(agentsession.StateAwaitingPlanApproval, time.Minute)}
	o := newOrchestrator(c)

	dec, err := o.EvaluateSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("EvaluateSession: %v", err)
	}
	if dec != sessionmanager.DecisionWait {
		t.Errorf("decision = %v, want wait", dec)
	}
	if len(c.approved) != 1 {
		t.Errorf("approvals = %v, want one", c.approved)
	}
}

func TestEvaluateNudgesFeedbackEvenPastTimeout(t *testing.T) {
	t.Parallel()
	// Well past the stuck timeout: feedback-waiting sessions are nudged,
	// never abandoned, and no new session gets created.
	c := &fakeClient{session: sessionIn(agentsession.StateAwaitingUserFeedback, 2*time.Hour)}
	o := newOrchestrator(c)

	dec, err := o.EvaluateSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("EvaluateSession: %v", err)
	}
	if dec != sessionmanager.DecisionWait {
		t.Errorf("decision = %v, want wait", dec)
	}
	if len(c.messages) != 1 || !strings.Contains(c.messages[0], "proceed autonomously") {
		t.Errorf("messages = %v, want one nudge", c.messages)
	}
	if len(c.created) != 0 {
		t.Errorf("created sessions = %v, want none", c.created)
	}
}

func TestEvaluateInProgressStates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		state agentsession.State
		age   time.Duration
		want  sessionmanager.Decision
	}{
		{name: "fresh in-progress waits", state: agentsession.StateInProgress, age: 5 * time.Minute, want: sessionmanager.DecisionWait},
		{name: "fresh pending waits", state: agentsession.StatePending, age: time.Minute, want: sessionmanager.DecisionWait},
		{name: "stuck in-progress advances", state: agentsession.StateInProgress, age: 31 * time.Minute, want: sessionmanager.DecisionAdvance},
		{name: "stuck created advances", state: agentsession.StateCreated, age: time.Hour, want: sessionmanager.DecisionAdvance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &fakeClient{session: sessionIn(tt.state, tt.age)}
			o := newOrchestrator(c)
			dec, err := o.EvaluateSession(context.Background(), "s1")
			if err != nil {
				t.Fatalf("EvaluateSession: %v", err)
			}
			if dec != tt.want {
				t.Errorf("decision = %v, want %v", dec, tt.want)
			}
		})
	}
}

func TestEvaluateTerminalWithoutPR(t *testing.T) {
	t.Parallel()

	t.Run("inside window requests finalization", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{session: sessionIn(agentsession.StateCompleted, 10*time.Minute)}
		o := newOrchestrator(c)
		dec, err := o.EvaluateSession(context.Background(), "s1")
		if err != nil {
			t.Fatal(err)
		}
		if dec != sessionmanager.DecisionWait {
			t.Errorf("decision = %v, want wait", dec)
		}
		if len(c.messages) != 1 || !strings.Contains(c.messages[0], "pull request") {
			t.Errorf("messages = %v, want finalize request", c.messages)
		}
	})

	t.Run("past window advances", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{session: sessionIn(agentsession.StateFailed, time.Hour)}
		o := newOrchestrator(c)
		dec, err := o.EvaluateSession(context.Background(), "s1")
		if err != nil {
			t.Fatal(err)
		}
		if dec != sessionmanager.DecisionAdvance {
			t.Errorf("decision = %v, want advance", dec)
		}
		if len(c.messages) != 0 {
			t.Errorf("messages = %v, want none", c.messages)
		}
	})
}

func TestEvaluateCancelledAdvancesImmediately(t *testing.T) {
	t.Parallel()
	c := &fakeClient{session: sessionIn(agentsession.StateCancelled, time.Minute)}
	o := newOrchestrator(c)
	dec, err := o.EvaluateSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if dec != sessionmanager.DecisionAdvance {
		t.Errorf("decision = %v, want advance", dec)
	}
}

func TestEvaluateUnknownStateWaits(t *testing.T) {
	t.Parallel()
	c := &fakeClient{session: sessionIn(agentsession.State("SOMETHING_NEW"), time.Hour)}
	o := newOrchestrator(c)
	dec, err := o.EvaluateSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if dec != sessionmanager.DecisionWait {
		t.Errorf("decision = %v, want conservative wait", dec)
	}
}

func TestEvaluateLookupFailureWaits(t *testing.T) {
	t.Parallel()
	c := &fakeClient{getErr: errors.New("502")}
	o := newOrchestrator(c)
	dec, err := o.EvaluateSession(context.Background(), "s1")
	if err == nil {
		t.Fatal("expected error")
	}
	if dec != sessionmanager.DecisionWait {
		t.Errorf("decision = %v, want wait on lookup failure", dec)
	}
}

func TestDryRunSuppressesAllMutations(t *testing.T) {
	t.Parallel()
	for _, state := range []agentsession.State{
		agentsession.StateAwaitingPlanApproval,
		agentsession.StateAwaitingUserFeedback,
		agentsession.StateCompleted,
	} {
		c := &fakeClient{session: sessionIn(state, time.Minute)}
		o := newOrchestrator(c, sessionmanager.WithDryRun(true))
		if _, err := o.EvaluateSession(context.Background(), "s1"); err != nil {
			t.Fatalf("%s: %v", state, err)
		}
		if len(c.approved)+len(c.messages) != 0 {
			t.Errorf("%s: dry run mutated (approved=%v messages=%v)", state, c.approved, c.messages)
		}
	}
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	o := newOrchestrator(c)

	id, err := o.CreateSession(context.Background(), scheduler.SessionRequest{
		PersonaID:      "builder",
		Owner:          "acme",
		Repo:           "widgets",
		Branch:         "cycle-builder-pr3",
		Title:          "builder: automated cycle task",
		AutomationMode: scheduler.AutomationModeAutoPR,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "new-session" {
		t.Errorf("id = %q, want new-session", id)
	}
	if len(c.created) != 1 || c.created[0].Branch != "cycle-builder-pr3" {
		t.Errorf("created = %+v", c.created)
	}
}

func TestCreateSessionDryRunReturnsSentinel(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	o := newOrchestrator(c, sessionmanager.WithDryRun(true))

	id, err := o.CreateSession(context.Background(), scheduler.SessionRequest{PersonaID: "builder"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != scheduler.DryRunSessionID {
		t.Errorf("id = %q, want %q", id, scheduler.DryRunSessionID)
	}
	if len(c.created) != 0 {
		t.Errorf("dry run created sessions: %+v", c.created)
	}
}
