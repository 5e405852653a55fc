package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Manager reads revision information from the repository holding the workspace.
type Manager struct {
	repoPath string
	repo     *gogit.Repository
}

// Open finds the repository containing path, searching parent directories.
// Returns ErrNotRepository (from go-git) when path is not inside a checkout.
func Open(path string) (*Manager, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repo at %s: %w", path, err)
	}

	return &Manager{repoPath: path, repo: repo}, nil
}

// IsNotRepository reports whether err came from opening a directory outside any checkout.
func IsNotRepository(err error) bool {
	return errors.Is(err, gogit.ErrRepositoryNotExists)
}

// Head returns the short HEAD hash and the branch name (empty when detached).
func (m *Manager) Head() (hash, branch string, err error) {
	head, err := m.repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("failed to get head: %w", err)
	}

	hash = head.Hash().String()
	if len(hash) > 7 {
		hash = hash[:7]
	}
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return hash, branch, nil
}

// Revision implements builder.RevisionSource: "branch@hash", "hash" when
// detached, or "" when HEAD cannot be read (e.g. an empty repository).
func (m *Manager) Revision() string {
	hash, branch, err := m.Head()
	if err != nil {
		return ""
	}
	if branch == "" {
		return hash
	}
	return branch + "@" + hash
}

// IsUnborn reports whether HEAD points at a branch without commits.
func (m *Manager) IsUnborn() bool {
	_, err := m.repo.Head()
	return errors.Is(err, plumbing.ErrReferenceNotFound)
}

// ChangedFiles returns absolute paths of files with uncommitted changes,
// staged or not, including untracked files.
func (m *Manager) ChangedFiles() ([]string, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	root := wt.Filesystem.Root()
	var files []string
	for path, st := range status {
		if st.Staging == gogit.Unmodified && st.Worktree == gogit.Unmodified {
			continue
		}
		files = append(files, filepath.Join(root, filepath.FromSlash(path)))
	}
	sort.Strings(files)
	return files, nil
}
