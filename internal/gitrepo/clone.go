// Package gitrepo clones repositories into per-execution workspaces via a
// shared local cache, mirroring the cache-then-clone-then-checkout flow of
// the original tooling's gitrepo.py.
package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var prefixes = []string{"ssh://git@", "git@", "http://", "https://"}

// URLToDir slugifies a repo URL into a cache-relative directory path, the
// same way url_to_dir does: strip exactly one known prefix, then replace
// ':' with '/' and ".." with "__".
func URLToDir(repoURL string) (string, error) {
	for _, prefix := range prefixes {
		if strings.HasPrefix(repoURL, prefix) {
			rest := strings.TrimPrefix(repoURL, prefix)
			rest = strings.ReplaceAll(rest, ":", "/")
			rest = strings.ReplaceAll(rest, "..", "__")
			return rest, nil
		}
	}
	return "", fmt.Errorf("unknown repo_url format: %s", repoURL)
}

// Cloner clones repositories into fresh workspaces via a shared cache dir,
// serializing cache mutation across goroutines the way the original's
// git_repo_lock serialized it across threads.
type Cloner struct {
	cacheDir string
	mu       sync.Mutex
}

func NewCloner(cacheDir string) *Cloner {
	return &Cloner{cacheDir: cacheDir}
}

// Clone ensures a cache copy of repoURL exists (cloning or pulling it),
// then clones the cache into destDir and checks out commitHash onto a
// local branch named branchName.
func (c *Cloner) Clone(repoURL, commitHash, destDir, branchName string) error {
	slug, err := URLToDir(repoURL)
	if err != nil {
		return err
	}
	cacheRepoDir := filepath.Join(c.cacheDir, slug)

	c.mu.Lock()
	_, err = c.syncCache(repoURL, cacheRepoDir)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return fmt.Errorf("create workspace parent dir: %w", err)
	}

	c.mu.Lock()
	repo, err := git.PlainClone(destDir, false, &git.CloneOptions{URL: cacheRepoDir})
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clone from cache: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	hash := plumbing.NewHash(commitHash)
	ref := plumbing.NewBranchReferenceName(branchName)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(ref, hash)); err != nil {
		return fmt.Errorf("point branch %s at commit: %w", branchName, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Force: true}); err != nil {
		return fmt.Errorf("checkout commit %s: %w", commitHash, err)
	}
	return nil
}

func (c *Cloner) syncCache(repoURL, cacheRepoDir string) (*git.Repository, error) {
	if _, err := os.Stat(cacheRepoDir); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cacheRepoDir), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		repo, err := git.PlainClone(cacheRepoDir, false, &git.CloneOptions{URL: repoURL})
		if err != nil {
			return nil, fmt.Errorf("clone into cache: %w", err)
		}
		return repo, nil
	}

	repo, err := git.PlainOpen(cacheRepoDir)
	if err != nil {
		return nil, fmt.Errorf("open cache repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get cache worktree: %w", err)
	}
	if err := wt.Pull(&git.PullOptions{RemoteName: "origin"}); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("pull cache repo: %w", err)
	}
	return repo, nil
}
