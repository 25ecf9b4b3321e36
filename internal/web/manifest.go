package web

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/conorfennell/flashdeck/internal/digest"
)

const indexTemplate = "templates/index.html"

// Extensions of static files listed in the offline manifest.
var manifestExts = map[string]bool{
	".css": true,
	".js":  true,
	".png": true,
	".map": true,
	".jpg": true,
}

// Manifest builds the offline cache manifest: the page itself, the static
// assets and every deck image. The version line changes whenever any of
// them does, which makes browsers fetch the new copies.
func (s *Server) Manifest(ctx context.Context) (string, error) {
	b := digest.NewBuilder()
	b.Add("sync", []byte(strconv.FormatBool(s.syncEnabled)))

	tpl, err := fs.ReadFile(templateFiles, indexTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to read index template: %w", err)
	}
	b.Add(indexTemplate, tpl)

	lines := []string{"./"}
	err = fs.WalkDir(s.static, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !manifestExts[path.Ext(d.Name())] {
			return nil
		}
		data, err := fs.ReadFile(s.static, p)
		if err != nil {
			return err
		}
		name := "static/" + p
		lines = append(lines, name)
		b.Add(name, data)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk static assets: %w", err)
	}

	decks, err := s.store.List(ctx)
	if err != nil {
		return "", err
	}
	for _, deck := range decks {
		assets, err := s.store.Assets(ctx, deck)
		if err != nil {
			return "", err
		}
		for _, file := range assets {
			data, err := s.readAsset(ctx, deck, file)
			if err != nil {
				return "", err
			}
			name := "decks/" + deck + "/" + file
			lines = append(lines, name)
			b.Add(name, data)
		}
	}

	return fmt.Sprintf("CACHE MANIFEST\n# sha256: %s\n%s\n\nNETWORK:\n*", b.Sum(), strings.Join(lines, "\n")), nil
}

func (s *Server) readAsset(ctx context.Context, deck, file string) ([]byte, error) {
	rc, err := s.store.OpenAsset(ctx, deck, file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", deck, file, err)
	}
	return data, nil
}
