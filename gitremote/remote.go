/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitremote

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

// Remote wraps a local clone of the repository plus credentials for its
// origin. All mutating operations act on origin; the clone exists to give
// merge operations a worktree and to cache objects between calls.
type Remote struct {
	dir         string
	url         string
	repo        *git.Repository
	tokenSource oauth2.TokenSource
	gitPath     string
	identity    string
}

// Option configures a Remote.
type Option func(*Remote)

// WithGitPath overrides the git binary used for merge operations.
func WithGitPath(path string) Option {
	return func(r *Remote) {
		r.gitPath = path
	}
}

// WithIdentity sets the committer identity for merge commits.
func WithIdentity(identity string) Option {
	return func(r *Remote) {
		r.identity = identity
	}
}

// Open returns a Remote backed by the clone at dir, cloning from url
// first if dir does not hold a repository yet.
func Open(ctx context.Context, dir, url string, ts oauth2.TokenSource, opts ...Option) (*Remote, error) {
	r := &Remote{
		dir:         dir,
		url:         url,
		tokenSource: ts,
		gitPath:     "git",
		identity:    "cyclescheduler",
	}
	for _, opt := range opts {
		opt(r)
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		auth, authErr := r.auth()
		if authErr != nil {
			return nil, fmt.Errorf("getting token: %w", authErr)
		}
		clog.FromContext(ctx).Infof("Cloning %s into %s", url, dir)
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  url,
			Auth: auth,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	r.repo = repo
	return r, nil
}

func (r *Remote) auth() (*githttp.BasicAuth, error) {
	token, err := r.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// Fetch updates all remote-tracking heads from origin.
func (r *Remote) Fetch(ctx context.Context) error {
	auth, err := r.auth()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	err = r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       auth,
		Force:      true,
		Prune:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching origin: %w", err)
	}
	return nil
}

// BranchExists reports whether origin currently advertises the branch.
func (r *Remote) BranchExists(ctx context.Context, branch string) (bool, error) {
	auth, err := r.auth()
	if err != nil {
		return false, fmt.Errorf("getting token: %w", err)
	}

	remote, err := r.repo.Remote("origin")
	if err != nil {
		return false, fmt.Errorf("looking up origin: %w", err)
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return false, fmt.Errorf("listing remote refs: %w", err)
	}

	want := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return true, nil
		}
	}
	return false, nil
}

// ResolveRef returns the SHA the remote-tracking copy of ref points at.
// Callers are expected to Fetch first.
func (r *Remote) ResolveRef(_ context.Context, ref string) (string, error) {
	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true)
	if err != nil {
		return "", fmt.Errorf("resolving origin/%s: %w", ref, err)
	}
	return remoteRef.Hash().String(), nil
}

// PushRef points refs/heads/<branch> on origin at the given SHA, creating
// the branch when absent.
func (r *Remote) PushRef(ctx context.Context, sha, branch string, force bool) error {
	refName := plumbing.NewBranchReferenceName(branch)
	local := plumbing.NewHashReference(refName, plumbing.NewHash(sha))
	if err := r.repo.Storer.SetReference(local); err != nil {
		return fmt.Errorf("setting branch reference: %w", err)
	}
	return r.pushBranch(ctx, branch, force)
}

func (r *Remote) pushBranch(ctx context.Context, branch string, force bool) error {
	auth, err := r.auth()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	refName := plumbing.NewBranchReferenceName(branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", refName, refName))
	clog.FromContext(ctx).Infof("Pushing %s (force=%t)", refSpec, force)

	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		Force:      force,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// CopyBranch creates dst on origin at src's current tip. The copy is
// non-forced: an existing dst is never overwritten.
func (r *Remote) CopyBranch(ctx context.Context, src, dst string) error {
	sha, err := r.ResolveRef(ctx, src)
	if err != nil {
		return err
	}
	return r.PushRef(ctx, sha, dst, false)
}

// CommitsAhead counts commits on origin/<branch> not reachable from
// origin/<base>.
func (r *Remote) CommitsAhead(ctx context.Context, base, branch string) (int, error) {
	branchSHA, err := r.ResolveRef(ctx, branch)
	if err != nil {
		return 0, err
	}
	baseSHA, err := r.ResolveRef(ctx, base)
	if err != nil {
		return 0, err
	}
	if branchSHA == baseSHA {
		return 0, nil
	}

	branchCommit, err := r.repo.CommitObject(plumbing.NewHash(branchSHA))
	if err != nil {
		return 0, fmt.Errorf("loading commit %s: %w", branchSHA, err)
	}
	baseCommit, err := r.repo.CommitObject(plumbing.NewHash(baseSHA))
	if err != nil {
		return 0, fmt.Errorf("loading commit %s: %w", baseSHA, err)
	}

	bases, err := branchCommit.MergeBase(baseCommit)
	if err != nil {
		return 0, fmt.Errorf("computing merge base of %s and %s: %w", branch, base, err)
	}
	stop := make(map[plumbing.Hash]bool, len(bases))
	for _, b := range bases {
		stop[b.Hash] = true
	}

	count := 0
	iter := object.NewCommitPreorderIter(branchCommit, nil, nil)
	err = iter.ForEach(func(c *object.Commit) error {
		if stop[c.Hash] {
			return storer.ErrStop
		}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking commits from %s: %w", branch, err)
	}
	return count, nil
}
