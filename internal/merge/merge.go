// Package merge reconciles a client's cards with the cards stored on the
// server using last-writer-wins on the card edit time.
package merge

import "github.com/conorfennell/flashdeck/internal/domain"

// Report counts what happened to the incoming cards of one merge round.
type Report struct {
	// Added lists the questions of the cards appended as new.
	Added    []string
	Replaced int
	Rejected int
	Skipped  int
	// Purged lists the questions of the tombstones removed from the result.
	Purged []string
}

// Merge reconciles incoming cards into the stored ones and returns the new
// card list. Neither input slice is modified.
func Merge(stored, incoming []domain.Card) []domain.Card {
	cards, _ := Reconcile(stored, incoming)
	return cards
}

// Reconcile is Merge with a report of the decisions taken.
//
// An incoming card without a time is skipped. One whose question is not
// stored is appended. A stored tombstone always wins, as does a stored card
// whose time is strictly newer. Otherwise the incoming card replaces the
// stored one in place. Tombstones are purged from the result.
//
// Once purged, a tombstone no longer guards its question: a stale edit
// arriving in a later round is taken as a new card.
func Reconcile(stored, incoming []domain.Card) ([]domain.Card, Report) {
	var report Report

	result := make([]domain.Card, len(stored), len(stored)+len(incoming))
	copy(result, stored)

	index := make(map[string]int, len(result))
	for i, card := range result {
		q, ok := card.Question()
		if !ok {
			continue
		}
		if _, seen := index[q]; !seen {
			index[q] = i
		}
	}

	for _, in := range incoming {
		if !in.HasTime() {
			report.Skipped++
			continue
		}
		q, _ := in.Question()
		i, found := index[q]
		if !found {
			index[q] = len(result)
			result = append(result, in)
			report.Added = append(report.Added, q)
			continue
		}
		current := result[i]
		if current.Deleted() {
			report.Rejected++
			continue
		}
		if current.HasTime() && newer(current.Time(), in.Time()) {
			report.Rejected++
			continue
		}
		result[i] = in
		report.Replaced++
	}

	kept := result[:0]
	for _, card := range result {
		if card.Deleted() {
			q, _ := card.Question()
			report.Purged = append(report.Purged, q)
			continue
		}
		kept = append(kept, card)
	}
	return kept, report
}

// newer reports whether timestamp a is strictly after b. Timestamps that
// cannot be compared never count as newer.
func newer(a, b any) bool {
	as, aok := domain.UnixSeconds(a)
	bs, bok := domain.UnixSeconds(b)
	if aok && bok {
		return as > bs
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return sa > sb
	}
	return false
}
