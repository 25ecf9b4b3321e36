package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Field names the server interprets. Every other field of a card is
// scheduling or display data owned by the client and is stored as-is.
const (
	FieldQuestion = "question"
	FieldAnswer   = "answer"
	FieldTime     = "time"
	FieldDeleted  = "deleted"
	FieldLevel    = "level"
	FieldImage    = "img"
)

// Card is a single question/answer record as produced by a client.
// Numbers are kept as json.Number so a load/save cycle reproduces the
// stored bytes exactly.
type Card map[string]any

// UnmarshalJSON decodes a card, preserving numbers as json.Number.
func (c *Card) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*c = m
	return nil
}

// Question returns the identity key of the card.
func (c Card) Question() (string, bool) {
	q, ok := c[FieldQuestion].(string)
	return q, ok
}

// HasTime reports whether the card carries an edit timestamp. A null
// time counts as absent.
func (c Card) HasTime() bool {
	v, ok := c[FieldTime]
	return ok && v != nil
}

// Time returns the raw edit timestamp, or nil.
func (c Card) Time() any {
	return c[FieldTime]
}

// Deleted reports whether the card is a tombstone.
func (c Card) Deleted() bool {
	d, _ := c[FieldDeleted].(bool)
	return d
}

// Level returns the review level of the card, 0 when unset.
func (c Card) Level() int {
	level, ok := number(c[FieldLevel])
	if !ok {
		return 0
	}
	return int(level)
}

// Clone returns a shallow copy of the card.
func (c Card) Clone() Card {
	out := make(Card, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// UnixSeconds converts a card timestamp to unix seconds. Numbers are taken
// as seconds; strings are parsed as RFC 3339, the format browsers use when
// serializing a Date.
func UnixSeconds(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return float64(parsed.UnixNano()) / 1e9, true
			}
		}
		return 0, false
	case time.Time:
		return float64(t.UnixNano()) / 1e9, true
	default:
		return number(v)
	}
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Deck is a named collection of cards.
type Deck struct {
	Name  string `json:"name,omitempty"`
	Cards []Card `json:"cards"`
}

// Snapshot carries whole decks between a client and the server, keyed by
// deck name.
type Snapshot struct {
	Decks map[string]Deck `json:"decks"`
}
