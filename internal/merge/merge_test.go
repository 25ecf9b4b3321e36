package merge

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/conorfennell/flashdeck/internal/domain"
)

func card(q string, fields ...any) domain.Card {
	c := domain.Card{domain.FieldQuestion: q}
	for i := 0; i+1 < len(fields); i += 2 {
		c[fields[i].(string)] = fields[i+1]
	}
	return c
}

func TestMerge(t *testing.T) {
	testCases := []struct {
		name     string
		stored   []domain.Card
		incoming []domain.Card
		expected []domain.Card
	}{
		{
			name:     "Empty incoming keeps stored",
			stored:   []domain.Card{card("q1", "time", 1), card("q2", "time", 2)},
			incoming: nil,
			expected: []domain.Card{card("q1", "time", 1), card("q2", "time", 2)},
		},
		{
			name:     "Empty incoming purges stored tombstones",
			stored:   []domain.Card{card("q1", "time", 1), card("q2", "time", 2, "deleted", true)},
			incoming: []domain.Card{},
			expected: []domain.Card{card("q1", "time", 1)},
		},
		{
			name:     "New card is appended",
			stored:   nil,
			incoming: []domain.Card{card("q1", "time", 1)},
			expected: []domain.Card{card("q1", "time", 1)},
		},
		{
			name:     "Newer stored time wins",
			stored:   []domain.Card{card("q1", "time", 5, "answer", "server")},
			incoming: []domain.Card{card("q1", "time", 3, "answer", "client")},
			expected: []domain.Card{card("q1", "time", 5, "answer", "server")},
		},
		{
			name:     "Newer incoming time wins",
			stored:   []domain.Card{card("q1", "time", 3, "answer", "server")},
			incoming: []domain.Card{card("q1", "time", 5, "answer", "client")},
			expected: []domain.Card{card("q1", "time", 5, "answer", "client")},
		},
		{
			name:     "Equal time lets incoming win",
			stored:   []domain.Card{card("q1", "time", 4, "answer", "server")},
			incoming: []domain.Card{card("q1", "time", 4, "answer", "client")},
			expected: []domain.Card{card("q1", "time", 4, "answer", "client")},
		},
		{
			name:     "Stored card without time never blocks",
			stored:   []domain.Card{card("q1", "answer", "server")},
			incoming: []domain.Card{card("q1", "time", 1, "answer", "client")},
			expected: []domain.Card{card("q1", "time", 1, "answer", "client")},
		},
		{
			name:     "Incoming tombstone purges card",
			stored:   []domain.Card{card("q1", "time", 1)},
			incoming: []domain.Card{card("q1", "time", 2, "deleted", true)},
			expected: []domain.Card{},
		},
		{
			name:     "Stored tombstone blocks stale edit",
			stored:   []domain.Card{card("q1", "time", 5, "deleted", true)},
			incoming: []domain.Card{card("q1", "time", 3)},
			expected: []domain.Card{},
		},
		{
			name:     "Stored tombstone blocks newer edit",
			stored:   []domain.Card{card("q1", "time", 1, "deleted", true)},
			incoming: []domain.Card{card("q1", "time", 9)},
			expected: []domain.Card{},
		},
		{
			name:     "Untouched card is ignored",
			stored:   []domain.Card{card("q1", "time", 1, "answer", "server")},
			incoming: []domain.Card{card("q1", "answer", "client")},
			expected: []domain.Card{card("q1", "time", 1, "answer", "server")},
		},
		{
			name:     "Null time counts as untouched",
			stored:   nil,
			incoming: []domain.Card{card("q1", "time", nil)},
			expected: []domain.Card{},
		},
		{
			name:     "Stored order kept, new cards appended",
			stored:   []domain.Card{card("a", "time", 1), card("b", "time", 1)},
			incoming: []domain.Card{card("c", "time", 2), card("a", "time", 2, "level", 1)},
			expected: []domain.Card{card("a", "time", 2, "level", 1), card("b", "time", 1), card("c", "time", 2)},
		},
		{
			name:     "Duplicate incoming questions reconcile in order",
			stored:   nil,
			incoming: []domain.Card{card("q1", "time", 5, "answer", "first"), card("q1", "time", 3, "answer", "second")},
			expected: []domain.Card{card("q1", "time", 5, "answer", "first")},
		},
		{
			name:     "ISO timestamps compare by instant",
			stored:   []domain.Card{card("q1", "time", "2014-03-01T10:00:00.000Z")},
			incoming: []domain.Card{card("q1", "time", "2014-03-01T11:00:00+02:00", "answer", "client")},
			expected: []domain.Card{card("q1", "time", "2014-03-01T10:00:00.000Z")},
		},
		{
			name:     "json numbers compare numerically",
			stored:   []domain.Card{card("q1", "time", json.Number("10"))},
			incoming: []domain.Card{card("q1", "time", json.Number("9.5"))},
			expected: []domain.Card{card("q1", "time", json.Number("10"))},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.stored, tc.incoming)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Expected %v, but got %v", tc.expected, got)
			}
		})
	}
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	stored := []domain.Card{card("q1", "time", 1), card("q2", "time", 1)}
	incoming := []domain.Card{card("q1", "time", 2, "deleted", true)}

	Merge(stored, incoming)

	if len(stored) != 2 || stored[0].Deleted() {
		t.Errorf("Expected stored cards to be unchanged, but got %v", stored)
	}
	if len(incoming) != 1 || !incoming[0].Deleted() {
		t.Errorf("Expected incoming cards to be unchanged, but got %v", incoming)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	stored := []domain.Card{card("q1", "time", 1), card("q2", "time", 2)}
	once := Merge(stored, nil)
	twice := Merge(once, nil)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Expected repeated empty merges to agree, got %v and %v", once, twice)
	}
}

func TestReconcileReport(t *testing.T) {
	stored := []domain.Card{
		card("kept", "time", 9),
		card("replaced", "time", 1),
		card("tomb", "time", 1, "deleted", true),
	}
	incoming := []domain.Card{
		card("kept", "time", 2),
		card("replaced", "time", 2),
		card("tomb", "time", 5),
		card("new", "time", 1),
		card("gone", "time", 1, "deleted", true),
		card("untouched"),
	}

	cards, report := Reconcile(stored, incoming)

	if len(cards) != 3 {
		t.Fatalf("Expected 3 cards, but got %d: %v", len(cards), cards)
	}
	if !reflect.DeepEqual(report.Added, []string{"new", "gone"}) {
		t.Errorf("Expected added [new gone], but got %v", report.Added)
	}
	if report.Replaced != 1 {
		t.Errorf("Expected 1 replaced, but got %d", report.Replaced)
	}
	if report.Rejected != 2 {
		t.Errorf("Expected 2 rejected, but got %d", report.Rejected)
	}
	if report.Skipped != 1 {
		t.Errorf("Expected 1 skipped, but got %d", report.Skipped)
	}
	if !reflect.DeepEqual(report.Purged, []string{"tomb", "gone"}) {
		t.Errorf("Expected purged [tomb gone], but got %v", report.Purged)
	}
}

// A purged tombstone cannot stop an older edit in a later round.
func TestPurgedTombstoneDoesNotGuardLaterRounds(t *testing.T) {
	first := Merge([]domain.Card{card("q1", "time", 1)}, []domain.Card{card("q1", "time", 5, "deleted", true)})
	second := Merge(first, []domain.Card{card("q1", "time", 3)})

	expected := []domain.Card{card("q1", "time", 3)}
	if !reflect.DeepEqual(second, expected) {
		t.Errorf("Expected %v, but got %v", expected, second)
	}
}
