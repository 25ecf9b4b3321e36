package deckstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conorfennell/flashdeck/internal/domain"
)

// FileStore keeps each deck in its own directory under a root:
// <root>/<deck>/cards.json, with the deck's images next to it.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the directory holding the decks.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) cardsPath(name string) string {
	return filepath.Join(s.root, name, CardsFile)
}

// Ensure creates the deck directory and an empty card list if absent.
func (s *FileStore) Ensure(_ context.Context, name string) error {
	if err := domain.ValidateDeckName(name); err != nil {
		return err
	}
	p := s.cardsPath(name)
	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat deck %s: %w", name, err)
	}
	empty, err := Encode(nil)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, empty)
}

// Load reads the card list of a deck.
func (s *FileStore) Load(_ context.Context, name string) ([]domain.Card, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.cardsPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.Card{}, nil
		}
		return nil, fmt.Errorf("failed to read deck %s: %w", name, err)
	}
	cards, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("deck %s: %w", name, err)
	}
	return cards, nil
}

// Save writes the card list of a deck through a temporary file and a rename.
func (s *FileStore) Save(_ context.Context, name string, cards []domain.Card) error {
	if err := domain.ValidateDeckName(name); err != nil {
		return err
	}
	data, err := Encode(cards)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.cardsPath(name), data); err != nil {
		return fmt.Errorf("failed to save deck %s: %w", name, err)
	}
	return nil
}

// List returns every directory under the root that holds a card list.
// Hidden entries, such as a .git directory, are skipped.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || domain.ValidateDeckName(name) != nil {
			continue
		}
		if _, err := os.Stat(s.cardsPath(name)); err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Assets lists the images stored in a deck directory.
func (s *FileStore) Assets(_ context.Context, name string) ([]string, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list assets of deck %s: %w", name, err)
	}
	files := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && isAsset(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// OpenAsset opens an image of a deck.
func (s *FileStore) OpenAsset(_ context.Context, name, file string) (io.ReadCloser, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	if err := validateAsset(file); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, name, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, name, file)
		}
		return nil, fmt.Errorf("failed to open asset %s/%s: %w", name, file, err)
	}
	return f, nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cards-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
