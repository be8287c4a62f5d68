/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githost

import "regexp"

// Agent-created PRs carry their session id either as a suffix on the
// head ref (a UUID or a long numeric id) or as a session/task link in
// the PR body.
var (
	branchUUIDPattern    = regexp.MustCompile(`([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
	branchNumericPattern = regexp.MustCompile(`-([0-9]{15,})$`)
	bodyTaskPattern      = regexp.MustCompile(`/task/([A-Za-z0-9_-]+)`)
	bodySessionPattern   = regexp.MustCompile(`/sessions?/([A-Za-z0-9_-]+)`)
)

// ExtractSessionID recovers the agent session id from a PR's head ref or
// body, returning "" when neither carries one.
func ExtractSessionID(headRef, body string) string {
	if m := branchUUIDPattern.FindStringSubmatch(headRef); m != nil {
		return m[1]
	}
	if m := branchNumericPattern.FindStringSubmatch(headRef); m != nil {
		return m[1]
	}
	if m := bodyTaskPattern.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	if m := bodySessionPattern.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

// FindBySessionID returns the first PR whose head ref or body carries
// the session id, or nil.
func FindBySessionID(prs []PRInfo, sessionID string) *PRInfo {
	if sessionID == "" {
		return nil
	}
	for i := range prs {
		if ExtractSessionID(prs[i].HeadRef, prs[i].Body) == sessionID {
			return &prs[i]
		}
	}
	return nil
}
