/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githost

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// CheckStatus is one status check or check run on a PR's head commit.
// Status carries the conclusion when the check finished, otherwise its
// in-flight status (for example IN_PROGRESS).
type CheckStatus struct {
	Name   string
	Status string
}

// PRInfo is the scheduler's snapshot of a pull request.
type PRInfo struct {
	Number  int
	Title   string
	Body    string
	HeadRef string
	BaseRef string
	IsDraft bool

	// Mergeable is nil while the platform is still computing.
	Mergeable *bool

	Checks []CheckStatus
	State  string
	Merged bool
}

// Client talks to the hosting platform over REST and GraphQL with a
// shared authenticated transport.
type Client struct {
	rest *github.Client
	gql  *githubv4.Client
}

// New returns a Client authenticated with the given token source.
func New(ctx context.Context, ts oauth2.TokenSource) *Client {
	hc := oauth2.NewClient(ctx, ts)
	return &Client{
		rest: github.NewClient(hc),
		gql:  githubv4.NewClient(hc),
	}
}

// ListOpenPRs returns the open pull requests, newest-updated first. Check
// and mergeability detail is not populated; use GetPR for that.
func (c *Client) ListOpenPRs(ctx context.Context, owner, repo string) ([]PRInfo, error) {
	var out []PRInfo
	opts := &github.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.rest.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing open PRs: %w", err)
		}
		for _, pr := range prs {
			out = append(out, fromREST(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetPR returns full detail for one pull request, including the
// mergeable tri-state and the complete check rollup of its head commit.
func (c *Client) GetPR(ctx context.Context, owner, repo string, number int) (*PRInfo, error) {
	var query struct {
		Repository struct {
			PullRequest struct {
				Number      int
				Title       string
				Body        string
				HeadRefName string
				BaseRefName string
				IsDraft     bool
				Mergeable   string // MERGEABLE, CONFLICTING, UNKNOWN
				State       string
				Merged      bool
				Commits     struct {
					Nodes []struct {
						Commit struct {
							StatusCheckRollup struct {
								Contexts struct {
									Nodes []struct {
										Typename string `graphql:"__typename"`
										CheckRun struct {
											Name       string
											Status     string
											Conclusion string
										} `graphql:"... on CheckRun"`
										StatusContext struct {
											Context string
											State   string
										} `graphql:"... on StatusContext"`
									}
									PageInfo struct {
										HasNextPage bool
										EndCursor   githubv4.String
									}
								} `graphql:"contexts(first: 100, after: $cursor)"`
							}
						}
					}
				} `graphql:"commits(last: 1)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	variables := map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(repo),
		"number": githubv4.Int(number),
		"cursor": (*githubv4.String)(nil),
	}

	var info *PRInfo
	for {
		if err := c.gql.Query(ctx, &query, variables); err != nil {
			return nil, fmt.Errorf("querying PR #%d: %w", number, err)
		}
		pr := query.Repository.PullRequest

		if info == nil {
			info = &PRInfo{
				Number:    pr.Number,
				Title:     pr.Title,
				Body:      pr.Body,
				HeadRef:   pr.HeadRefName,
				BaseRef:   pr.BaseRefName,
				IsDraft:   pr.IsDraft,
				Mergeable: mergeableFromState(pr.Mergeable),
				State:     strings.ToLower(pr.State),
				Merged:    pr.Merged,
			}
		}

		if len(pr.Commits.Nodes) == 0 {
			break
		}
		contexts := pr.Commits.Nodes[0].Commit.StatusCheckRollup.Contexts
		for _, node := range contexts.Nodes {
			switch node.Typename {
			case "CheckRun":
				status := node.CheckRun.Conclusion
				if status == "" {
					status = node.CheckRun.Status
				}
				info.Checks = append(info.Checks, CheckStatus{Name: node.CheckRun.Name, Status: status})
			case "StatusContext":
				info.Checks = append(info.Checks, CheckStatus{Name: node.StatusContext.Context, Status: node.StatusContext.State})
			}
		}
		if !contexts.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(contexts.PageInfo.EndCursor)
	}
	return info, nil
}

func mergeableFromState(state string) *bool {
	switch state {
	case "MERGEABLE":
		return github.Ptr(true)
	case "CONFLICTING":
		return github.Ptr(false)
	default:
		// UNKNOWN: still computing.
		return nil
	}
}

// FindPRBySessionAnyState scans recent pull requests in any state for one
// carrying the session id in its head ref or body.
func (c *Client) FindPRBySessionAnyState(ctx context.Context, owner, repo, sessionID string) (*PRInfo, error) {
	prs, _, err := c.rest.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("listing PRs: %w", err)
	}
	for _, pr := range prs {
		info := fromREST(pr)
		if ExtractSessionID(info.HeadRef, info.Body) == sessionID {
			return &info, nil
		}
	}
	return nil, nil
}

// CreatePR opens a pull request from head to base.
func (c *Client) CreatePR(ctx context.Context, owner, repo, head, base, title, body string) (*PRInfo, error) {
	pr, _, err := c.rest.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("creating PR %s -> %s: %w", head, base, err)
	}
	info := fromREST(pr)
	return &info, nil
}

// EditPRBase retargets the pull request at a new base branch.
func (c *Client) EditPRBase(ctx context.Context, owner, repo string, number int, base string) error {
	_, _, err := c.rest.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Base: &github.PullRequestBranch{Ref: github.Ptr(base)},
	})
	if err != nil {
		return fmt.Errorf("retargeting PR #%d to %s: %w", number, base, err)
	}
	return nil
}

// MergePR merges the pull request with a merge commit and then deletes
// its head ref. Head-ref deletion is best effort; repositories often
// auto-delete merged branches.
func (c *Client) MergePR(ctx context.Context, owner, repo string, number int) error {
	pr, _, err := c.rest.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("loading PR #%d: %w", number, err)
	}

	_, _, err = c.rest.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
		MergeMethod: "merge",
	})
	if err != nil {
		return fmt.Errorf("merging PR #%d: %w", number, err)
	}

	if head := pr.GetHead().GetRef(); head != "" {
		if _, err := c.rest.Git.DeleteRef(ctx, owner, repo, "heads/"+head); err != nil {
			clog.FromContext(ctx).Warnf("Deleting merged head ref %s: %v", head, err)
		}
	}
	return nil
}

// MarkReady promotes a draft pull request to ready for review.
func (c *Client) MarkReady(ctx context.Context, owner, repo string, number int) error {
	var query struct {
		Repository struct {
			PullRequest struct {
				ID githubv4.ID
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(repo),
		"number": githubv4.Int(number),
	}
	if err := c.gql.Query(ctx, &query, variables); err != nil {
		return fmt.Errorf("resolving PR #%d id: %w", number, err)
	}

	var mutation struct {
		MarkPullRequestReadyForReview struct {
			PullRequest struct {
				Number int
			}
		} `graphql:"markPullRequestReadyForReview(input: $input)"`
	}
	input := githubv4.MarkPullRequestReadyForReviewInput{
		PullRequestID: query.Repository.PullRequest.ID,
	}
	if err := c.gql.Mutate(ctx, &mutation, input, nil); err != nil {
		return fmt.Errorf("marking PR #%d ready: %w", number, err)
	}
	return nil
}

// GetDiff returns the unified diff of the pull request.
func (c *Client) GetDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := c.rest.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("fetching diff for PR #%d: %w", number, err)
	}
	return diff, nil
}

func fromREST(pr *github.PullRequest) PRInfo {
	var mergeable *bool
	if pr.Mergeable != nil {
		mergeable = github.Ptr(pr.GetMergeable())
	}
	return PRInfo{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		HeadRef:   pr.GetHead().GetRef(),
		BaseRef:   pr.GetBase().GetRef(),
		IsDraft:   pr.GetDraft(),
		Mergeable: mergeable,
		State:     pr.GetState(),
		Merged:    pr.GetMerged(),
	}
}
