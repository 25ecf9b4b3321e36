// Package schedule implements the level-based review schedule used by the
// browser client: a card at level n is due 2^(2n-1) seconds after its last
// review, a correct answer on a due card raises the level and a wrong
// answer halves it.
package schedule

import (
	"math"
	"sort"
	"time"

	"github.com/conorfennell/flashdeck/internal/domain"
)

// K scales how fast the interval grows with the level.
const K = 2

// maxExponent caps the interval so review times stay representable.
const maxExponent = 60

// TimeLayout is the format browsers use when serializing a Date.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Interval returns the review interval in seconds for a level.
func Interval(level int) float64 {
	exp := K*level - 1
	if exp > maxExponent {
		exp = maxExponent
	}
	return math.Pow(2, float64(exp))
}

// ReviewAt returns the unix time at which the card should be reviewed
// again. Cards never reviewed have no review time.
func ReviewAt(card domain.Card) (float64, bool) {
	if !card.HasTime() {
		return 0, false
	}
	last, ok := domain.UnixSeconds(card.Time())
	if !ok {
		return 0, false
	}
	return last + Interval(card.Level()), true
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Due returns the live cards whose review time has passed, the most
// recently due first. That is the order in which Pick offers them.
func Due(cards []domain.Card, now time.Time) []domain.Card {
	type entry struct {
		card domain.Card
		at   float64
	}
	n := unix(now)
	var ready []entry
	for _, c := range cards {
		if c.Deleted() {
			continue
		}
		at, ok := ReviewAt(c)
		if !ok || at > n {
			continue
		}
		ready = append(ready, entry{card: c, at: at})
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].at > ready[j].at })

	due := make([]domain.Card, 0, len(ready))
	for _, e := range ready {
		due = append(due, e.card)
	}
	return due
}

// Pick chooses the next card to study: a due card if there is one, else a
// card never reviewed, else the card reviewed longest ago.
func Pick(cards []domain.Card, now time.Time) (domain.Card, bool) {
	if due := Due(cards, now); len(due) > 0 {
		return due[0], true
	}
	for _, c := range cards {
		if !c.Deleted() && !c.HasTime() {
			return c, true
		}
	}

	var oldest domain.Card
	best := math.Inf(1)
	for _, c := range cards {
		if c.Deleted() {
			continue
		}
		t, ok := domain.UnixSeconds(c.Time())
		if !ok {
			continue
		}
		if t < best {
			best, oldest = t, c
		}
	}
	return oldest, oldest != nil
}

// Grade returns a copy of the card updated for a review answered at now.
// The new time keeps the representation of the previous one: unix seconds
// when it was a number, a browser-style date string otherwise.
func Grade(card domain.Card, correct bool, now time.Time) domain.Card {
	out := card.Clone()
	level := card.Level()
	if !correct {
		out[domain.FieldLevel] = level / 2
	} else if at, ok := ReviewAt(card); !ok || at <= unix(now) {
		out[domain.FieldLevel] = level + 1
	}

	if _, isString := card.Time().(string); card.HasTime() && !isString {
		out[domain.FieldTime] = unix(now)
	} else {
		out[domain.FieldTime] = now.UTC().Format(TimeLayout)
	}
	return out
}
