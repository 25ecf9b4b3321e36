// Package deckstore persists decks as JSON card lists, one list per deck.
package deckstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/conorfennell/flashdeck/internal/domain"
)

// CardsFile is the name of the card list inside a deck.
const CardsFile = "cards.json"

// Store is durable per-deck card storage addressed by deck name.
type Store interface {
	// Ensure creates the deck with an empty card list if it does not exist.
	Ensure(ctx context.Context, name string) error
	// Load returns the stored cards of a deck, or an empty list when the
	// deck has nothing stored yet.
	Load(ctx context.Context, name string) ([]domain.Card, error)
	// Save replaces the card list of a deck. Readers never observe a
	// partially written list.
	Save(ctx context.Context, name string, cards []domain.Card) error
	// List returns the names of all stored decks, sorted.
	List(ctx context.Context) ([]string, error)
	// Assets returns the image file names stored alongside a deck, sorted.
	Assets(ctx context.Context, name string) ([]string, error)
	// OpenAsset opens one image file of a deck.
	OpenAsset(ctx context.Context, name, file string) (io.ReadCloser, error)
}

var assetExts = map[string]string{
	".png": "image/png",
	".jpg": "image/jpg",
}

// AssetContentType returns the content type served for a deck asset.
func AssetContentType(file string) string {
	return assetExts[strings.ToLower(path.Ext(file))]
}

func isAsset(file string) bool {
	return !strings.HasPrefix(file, ".") && AssetContentType(file) != ""
}

func validateAsset(file string) error {
	if file == "" || strings.ContainsAny(file, `/\`) || !isAsset(file) {
		return fmt.Errorf("%w: asset %q", domain.ErrInvalidName, file)
	}
	return nil
}

// Encode serializes cards the way decks are stored: four-space indent,
// sorted keys and no HTML escaping, so stored files diff cleanly.
func Encode(cards []domain.Card) ([]byte, error) {
	if cards == nil {
		cards = []domain.Card{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(cards); err != nil {
		return nil, fmt.Errorf("failed to encode cards: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a stored card list.
func Decode(data []byte) ([]domain.Card, error) {
	var cards []domain.Card
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	if cards == nil {
		return nil, fmt.Errorf("%w: not a card list", domain.ErrCorruptData)
	}
	for i, card := range cards {
		if card == nil {
			return nil, fmt.Errorf("%w: card %d is null", domain.ErrCorruptData, i)
		}
	}
	return cards, nil
}
