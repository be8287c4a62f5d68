/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package cyclemanager

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"chainguard.dev/cyclescheduler/agentsession"
	"chainguard.dev/cyclescheduler/githost"
	"chainguard.dev/cyclescheduler/scheduler"
	"github.com/chainguard-dev/clog"
)

// Sessions lists recent sessions on the agent platform.
type Sessions interface {
	ListSessions(ctx context.Context) ([]agentsession.Session, error)
}

// PRFinder resolves a session to a PR regardless of the PR's state.
type PRFinder interface {
	FindPRBySessionAnyState(ctx context.Context, owner, repo, sessionID string) (*githost.PRInfo, error)
}

// Manager derives the cycle position for one repository.
type Manager struct {
	personas []scheduler.PersonaConfig
	owner    string
	repo     string
	prefix   string

	personaPatterns map[string]*regexp.Regexp
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix overrides the scheduler branch prefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// New returns a Manager over the ordered persona cycle.
func New(personas []scheduler.PersonaConfig, owner, repo string, opts ...Option) (*Manager, error) {
	if len(personas) == 0 {
		return nil, fmt.Errorf("persona cycle is empty")
	}
	m := &Manager{
		personas:        personas,
		owner:           owner,
		repo:            repo,
		prefix:          scheduler.DefaultBranchPrefix,
		personaPatterns: make(map[string]*regexp.Regexp, len(personas)),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range m.personas {
		// The persona id must appear as its own branch-name segment, so
		// "builder" does not match "rebuilder".
		pat, err := regexp.Compile(`(?:^|[-_/])` + regexp.QuoteMeta(strings.ToLower(p.ID)) + `(?:$|[-_/])`)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", p.ID, err)
		}
		m.personaPatterns[p.ID] = pat
	}
	return m, nil
}

// AdvanceCycle returns the index after the given persona, wrapping to
// zero. The second result reports whether the advance wrapped and the
// sprint counter should move.
func (m *Manager) AdvanceCycle(personaID string) (int, bool) {
	idx := slices.IndexFunc(m.personas, func(p scheduler.PersonaConfig) bool {
		return p.ID == personaID
	})
	if idx < 0 {
		return 0, false
	}
	next := (idx + 1) % len(m.personas)
	return next, next == 0
}

// isSchedulerBranch reports whether the branch was created by this
// scheduler.
func (m *Manager) isSchedulerBranch(branch string) bool {
	return strings.HasPrefix(strings.ToLower(branch), strings.ToLower(m.prefix)+"-")
}

// matchPersona recovers the persona id embedded in a scheduler branch
// name, or "".
func (m *Manager) matchPersona(branch string) string {
	lower := strings.ToLower(branch)
	for _, p := range m.personas {
		if m.personaPatterns[p.ID].MatchString(lower) {
			return p.ID
		}
	}
	return ""
}

// FindLastCycleSession walks recent sessions newest-first and returns
// the cycle position derived from the first one attributable to a
// persona. With no attributable session the cycle starts fresh at index
// zero.
func (m *Manager) FindLastCycleSession(ctx context.Context, sessions Sessions, finder PRFinder, openPRs []githost.PRInfo) (*scheduler.CycleState, error) {
	log := clog.FromContext(ctx)

	list, err := sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	slices.SortFunc(list, func(a, b agentsession.Session) int {
		return b.CreateTime.Compare(a.CreateTime)
	})

	for _, s := range list {
		pr := githost.FindBySessionID(openPRs, s.ID)
		if pr == nil {
			found, err := finder.FindPRBySessionAnyState(ctx, m.owner, m.repo, s.ID)
			if err != nil {
				log.Warnf("Looking up PR for session %s: %v", s.ID, err)
			} else {
				pr = found
			}
		}

		if pr != nil {
			if !m.isSchedulerBranch(pr.HeadRef) {
				continue
			}
			pid := m.matchPersona(pr.HeadRef)
			if pid == "" {
				continue
			}
			return m.stateFor(s.ID, pid, strconv.Itoa(pr.Number)), nil
		}

		// No PR anywhere: attribute through the branch the session was
		// started on.
		if m.isSchedulerBranch(s.StartingBranch) {
			if pid := m.matchPersona(s.StartingBranch); pid != "" {
				return m.stateFor(s.ID, pid, ""), nil
			}
		}
	}

	log.Infof("No prior cycle session found, starting fresh with %s", m.personas[0].ID)
	return &scheduler.CycleState{
		NextPersonaID:    m.personas[0].ID,
		NextPersonaIndex: 0,
	}, nil
}

func (m *Manager) stateFor(sessionID, personaID, basePR string) *scheduler.CycleState {
	next, wrap := m.AdvanceCycle(personaID)
	return &scheduler.CycleState{
		LastSessionID:         sessionID,
		LastPersonaID:         personaID,
		NextPersonaID:         m.personas[next].ID,
		NextPersonaIndex:      next,
		ShouldIncrementSprint: wrap,
		BasePRNumber:          basePR,
	}
}
