package gitsource

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// History commits deck files to a git repository rooted at the deck
// directory. Stored decks are pretty-printed with sorted keys, so each
// commit diff shows exactly the cards a round changed.
type History struct {
	mu     sync.Mutex // the worktree index is shared by all decks
	repo   *git.Repository
	author object.Signature
}

// OpenHistory opens the repository at root, initializing it if needed.
func OpenHistory(root, authorName, authorEmail string) (*History, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deck directory %s: %w", root, err)
	}
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(root, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open deck history at %s: %w", root, err)
	}
	return &History{
		repo:   repo,
		author: object.Signature{Name: authorName, Email: authorEmail},
	}, nil
}

// Commit records the current content of a deck file. It reports false
// when the file has no changes to commit.
func (h *History) Commit(deck, file, message string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	worktree, err := h.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	rel := path.Join(deck, file)
	if _, err := worktree.Add(rel); err != nil {
		return false, fmt.Errorf("failed to stage %s: %w", rel, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	if fs, changed := status[rel]; !changed || fs.Staging == git.Unmodified {
		return false, nil
	}

	author := h.author
	author.When = time.Now()
	if _, err := worktree.Commit(message, &git.CommitOptions{Author: &author}); err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return false, nil
		}
		return false, fmt.Errorf("failed to commit %s: %w", rel, err)
	}
	return true, nil
}
