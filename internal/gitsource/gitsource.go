// Package gitsource keeps the deck directory under git: it can seed the
// directory from a remote repository and records every saved deck as a commit.
package gitsource

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Seed brings the deck directory in line with a remote repository. A
// missing directory is cloned. An existing one is fast-forwarded to the
// remote; when local history commits have diverged from it, the local
// decks are kept as they are and a warning is logged. The next sync from
// the clients still reconciles every card.
func Seed(remote, dir string) error {
	_, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("Cloning deck repository", "url", remote, "path", dir)
		if _, err := git.PlainClone(dir, false, &git.CloneOptions{URL: remote}); err != nil {
			return fmt.Errorf("failed to clone deck repository %s: %w", remote, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("error checking deck directory %s: %w", dir, err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("failed to open deck repository at %s: %w", dir, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree of %s: %w", dir, err)
	}

	err = worktree.Pull(&git.PullOptions{RemoteName: git.DefaultRemoteName})
	switch {
	case err == nil:
		slog.Info("Deck repository updated", "path", dir)
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		slog.Info("Deck repository already up to date", "path", dir)
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		slog.Warn("Deck repository has diverged from its remote, keeping local decks",
			"path", dir, "url", remote)
	default:
		return fmt.Errorf("failed to pull deck repository at %s: %w", dir, err)
	}
	return nil
}
