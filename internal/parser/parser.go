// Package parser reads cards from markdown notes written as "Q:", "A:"
// and "C:" blocks. A new "Q:" line or a "---" line starts the next card.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/flashdeck/internal/domain"
)

// FieldContext holds the optional "C:" block of an imported card.
const FieldContext = "context"

var prefixes = []struct {
	prefix string
	field  string
}{
	{"Q:", domain.FieldQuestion},
	{"A:", domain.FieldAnswer},
	{"C:", FieldContext},
}

// ParseFile reads a file from the given path and extracts all cards.
func ParseFile(path string) ([]domain.Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all cards. A card is kept
// only if it has a non-empty question.
func Parse(r io.Reader) ([]domain.Card, error) {
	scanner := bufio.NewScanner(r)
	var (
		cards   []domain.Card
		current = domain.Card{}
		field   string // field being read, "" while seeking
		block   []string
	)

	flushBlock := func() {
		if field != "" && len(block) > 0 {
			current[field] = strings.Join(block, "\n")
		}
		block = nil
	}
	finishCard := func() {
		flushBlock()
		if q, _ := current.Question(); q != "" {
			cards = append(cards, current)
		}
		current = domain.Card{}
		field = ""
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "---" {
			finishCard()
			continue
		}

		next, rest := matchPrefix(line)
		switch {
		case next == domain.FieldQuestion:
			// A new question always starts a new card
			finishCard()
			field = next
			block = append(block, rest)
		case next != "":
			flushBlock()
			field = next
			block = append(block, rest)
		case field != "":
			block = append(block, line)
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, c := range cards {
		trimTrailingBlankLines(c)
	}
	return cards, nil
}

func matchPrefix(line string) (field, rest string) {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p.prefix) {
			return p.field, strings.TrimPrefix(line[len(p.prefix):], " ")
		}
	}
	return "", ""
}

func trimTrailingBlankLines(c domain.Card) {
	for k, v := range c {
		if s, ok := v.(string); ok {
			c[k] = strings.TrimRight(s, "\n")
		}
	}
}
