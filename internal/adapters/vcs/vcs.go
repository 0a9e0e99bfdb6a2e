// Package vcs narrows every source-control forge down to the five
// operations Verification + Cascade needs (spec.md §4.H): clone, branch,
// commit, push, open a pull request. Anti-Corruption Layer: callers
// never see a forge SDK type directly.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"code.gitea.io/sdk/gitea"
)

// Adapter abstracts a source-control forge.
type Adapter interface {
	Clone(ctx context.Context, repoURL, dir string) error
	Branch(ctx context.Context, dir, branchName string) error
	Commit(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, branchName string) error
	OpenPR(ctx context.Context, owner, repo, title, body, head, base string) (string, error)
}

// GiteaAdapter shells out to the git CLI for the working-tree operations
// (clone/branch/commit/push) and calls the Gitea API for OpenPR, the
// only operation that has no local-filesystem equivalent.
type GiteaAdapter struct {
	baseURL string
	token   string
}

// NewGiteaAdapter builds an adapter against a Gitea instance at baseURL,
// authenticating every API call with token.
func NewGiteaAdapter(baseURL, token string) *GiteaAdapter {
	return &GiteaAdapter{baseURL: baseURL, token: token}
}

func (a *GiteaAdapter) Clone(ctx context.Context, repoURL, dir string) error {
	return runGit(ctx, "", "clone", repoURL, dir)
}

func (a *GiteaAdapter) Branch(ctx context.Context, dir, branchName string) error {
	return runGit(ctx, dir, "checkout", "-b", branchName)
}

func (a *GiteaAdapter) Commit(ctx context.Context, dir, message string) error {
	if err := runGit(ctx, dir, "add", "-A"); err != nil {
		return err
	}
	if err := runGit(ctx, dir, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit in %s: %w", dir, err)
	}
	return nil
}

func (a *GiteaAdapter) Push(ctx context.Context, dir, branchName string) error {
	return runGit(ctx, dir, "push", "-u", "origin", branchName)
}

// OpenPR opens a pull request and returns its web URL.
func (a *GiteaAdapter) OpenPR(ctx context.Context, owner, repo, title, body, head, base string) (string, error) {
	client, err := gitea.NewClient(a.baseURL, gitea.SetToken(a.token), gitea.SetContext(ctx))
	if err != nil {
		return "", fmt.Errorf("build gitea client: %w", err)
	}
	pr, _, err := client.CreatePullRequest(owner, repo, gitea.CreatePullRequestOption{
		Title: title,
		Body:  body,
		Head:  head,
		Base:  base,
	})
	if err != nil {
		return "", fmt.Errorf("open pull request %s/%s %s->%s: %w", owner, repo, head, base, err)
	}
	return pr.HTMLURL, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %v: %w", args, err)
	}
	return nil
}
