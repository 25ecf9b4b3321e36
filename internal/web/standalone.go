package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/conorfennell/flashdeck/internal/deckstore"
	"github.com/conorfennell/flashdeck/internal/sync"
)

// StandalonePage is the file name of the exported client page.
const StandalonePage = "index.html"

// ExportStandalone writes an offline copy of the client into dir: the page
// rendered with sync disabled, its cache manifest, the static assets and
// every stored deck. dir must not exist yet.
func ExportStandalone(ctx context.Context, dir string, store deckstore.Store, logger *slog.Logger) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s already exists", dir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", dir, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	srv, err := NewServer(sync.NewService(store, sync.WithLogger(logger)), store, Options{Logger: logger})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := copyFS(filepath.Join(dir, "static"), srv.static); err != nil {
		return err
	}
	if err := exportDecks(ctx, filepath.Join(dir, "decks"), srv); err != nil {
		return err
	}

	manifest, err := srv.Manifest(ctx)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "cache.manifest"), []byte(manifest)); err != nil {
		return err
	}
	var page bytes.Buffer
	if err := srv.renderIndex(&page); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, StandalonePage), page.Bytes()); err != nil {
		return err
	}

	srv.log.Info("Standalone copy written", "dir", dir)
	return nil
}

func copyFS(dst string, src fs.FS) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}
		return writeFile(filepath.Join(dst, filepath.FromSlash(p)), data)
	})
}

func exportDecks(ctx context.Context, dst string, srv *Server) error {
	names, err := srv.store.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		cards, err := srv.store.Load(ctx, name)
		if err != nil {
			return err
		}
		data, err := deckstore.Encode(cards)
		if err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dst, name, deckstore.CardsFile), data); err != nil {
			return err
		}

		assets, err := srv.store.Assets(ctx, name)
		if err != nil {
			return err
		}
		for _, file := range assets {
			data, err := srv.readAsset(ctx, name, file)
			if err != nil {
				return err
			}
			if err := writeFile(filepath.Join(dst, name, file), data); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
