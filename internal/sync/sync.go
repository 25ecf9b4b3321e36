// Package sync reconciles client snapshots with the deck store. Every
// change to a deck runs load, change and save under that deck's lock so
// concurrent requests on the same deck cannot lose each other's updates.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/conorfennell/flashdeck/internal/deckstore"
	"github.com/conorfennell/flashdeck/internal/domain"
	"github.com/conorfennell/flashdeck/internal/merge"
	"github.com/conorfennell/flashdeck/internal/schedule"
	"github.com/conorfennell/flashdeck/internal/storage"
)

// ErrNoJournal is returned by Rounds when the service has no journal.
var ErrNoJournal = errors.New("sync journal disabled")

// Journal records what each round did to a deck.
type Journal interface {
	RecordRound(ctx context.Context, r storage.Round) (int64, error)
	RecentRounds(ctx context.Context, deck string, limit int) ([]storage.Round, error)
	FindTombstone(ctx context.Context, deck, question string) (*storage.Tombstone, error)
}

// History versions saved deck files.
type History interface {
	Commit(deck, file, message string) (bool, error)
}

// Service applies syncs, upserts and reviews to the decks of a store.
type Service struct {
	store   deckstore.Store
	locks   *deckLocks
	journal Journal
	history History
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every round in j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithHistory commits every saved deck to h.
func WithHistory(h History) Option {
	return func(s *Service) { s.history = h }
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now for reviews and journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service over store.
func NewService(store deckstore.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		locks: newDeckLocks(),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync merges every deck of the incoming snapshot into the store and
// returns the state of all stored decks afterwards. The whole snapshot is
// validated first; nothing is written if any deck name or card is invalid.
func (s *Service) Sync(ctx context.Context, in domain.Snapshot) (domain.Snapshot, error) {
	if err := in.Validate(); err != nil {
		return domain.Snapshot{}, err
	}

	names := make([]string, 0, len(in.Decks))
	for name := range in.Decks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		incoming := in.Decks[name].Cards
		err := s.modify(ctx, name, storage.KindSync, len(incoming), func(stored []domain.Card) ([]domain.Card, merge.Report, error) {
			cards, report := merge.Reconcile(stored, incoming)
			return cards, report, nil
		})
		if err != nil {
			return domain.Snapshot{}, err
		}
	}
	return s.Snapshot(ctx)
}

// Upsert replaces the card with the same question, or appends it. Edit
// times are not compared: this card always wins.
func (s *Service) Upsert(ctx context.Context, name string, card domain.Card) error {
	return s.UpsertAll(ctx, name, []domain.Card{card})
}

// UpsertAll upserts several cards in one round, in order.
func (s *Service) UpsertAll(ctx context.Context, name string, cards []domain.Card) error {
	if err := domain.ValidateDeckName(name); err != nil {
		return err
	}
	for i, card := range cards {
		if err := card.Validate(); err != nil {
			return fmt.Errorf("card %d: %w", i, err)
		}
	}
	return s.modify(ctx, name, storage.KindUpsert, len(cards), func(stored []domain.Card) ([]domain.Card, merge.Report, error) {
		out, report := upsert(stored, cards)
		return out, report, nil
	})
}

func upsert(stored, cards []domain.Card) ([]domain.Card, merge.Report) {
	var report merge.Report
	out := make([]domain.Card, len(stored), len(stored)+len(cards))
	copy(out, stored)

	index := make(map[string]int, len(out))
	for i, c := range out {
		if q, ok := c.Question(); ok {
			if _, seen := index[q]; !seen {
				index[q] = i
			}
		}
	}

	for _, card := range cards {
		q, _ := card.Question()
		if i, found := index[q]; found {
			out[i] = card
			report.Replaced++
			continue
		}
		index[q] = len(out)
		out = append(out, card)
		report.Added = append(report.Added, q)
	}
	return out, report
}

func indexOf(cards []domain.Card, question string) int {
	for i, c := range cards {
		if q, ok := c.Question(); ok && q == question {
			return i
		}
	}
	return -1
}

// Review grades the card with the given question and stores the result.
func (s *Service) Review(ctx context.Context, name, question string, correct bool) (domain.Card, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	var graded domain.Card
	err := s.modify(ctx, name, storage.KindUpsert, 1, func(stored []domain.Card) ([]domain.Card, merge.Report, error) {
		i := indexOf(stored, question)
		if i < 0 || stored[i].Deleted() {
			return nil, merge.Report{}, fmt.Errorf("%w: card %q in deck %s", domain.ErrNotFound, question, name)
		}
		graded = schedule.Grade(stored[i], correct, s.now())
		out, report := upsert(stored, []domain.Card{graded})
		return out, report, nil
	})
	if err != nil {
		return nil, err
	}
	return graded, nil
}

// Deck returns the stored cards of one deck.
func (s *Service) Deck(ctx context.Context, name string) (domain.Deck, error) {
	cards, err := s.store.Load(ctx, name)
	if err != nil {
		return domain.Deck{}, err
	}
	return domain.Deck{Name: name, Cards: cards}, nil
}

// Due returns the cards of a deck that are due for review.
func (s *Service) Due(ctx context.Context, name string) ([]domain.Card, error) {
	deck, err := s.Deck(ctx, name)
	if err != nil {
		return nil, err
	}
	return schedule.Due(deck.Cards, s.now()), nil
}

// Next returns the card a client should study next in a deck.
func (s *Service) Next(ctx context.Context, name string) (domain.Card, error) {
	deck, err := s.Deck(ctx, name)
	if err != nil {
		return nil, err
	}
	card, ok := schedule.Pick(deck.Cards, s.now())
	if !ok {
		return nil, fmt.Errorf("%w: no card to study in deck %s", domain.ErrNotFound, name)
	}
	return card, nil
}

// Snapshot returns every stored deck.
func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	names, err := s.store.List(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	out := domain.Snapshot{Decks: make(map[string]domain.Deck, len(names))}
	for _, name := range names {
		deck, err := s.Deck(ctx, name)
		if err != nil {
			return domain.Snapshot{}, err
		}
		out.Decks[name] = deck
	}
	return out, nil
}

// Rounds returns the latest journal entries of a deck.
func (s *Service) Rounds(ctx context.Context, name string, limit int) ([]storage.Round, error) {
	if err := domain.ValidateDeckName(name); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	return s.journal.RecentRounds(ctx, name, limit)
}

type changeFunc func(stored []domain.Card) ([]domain.Card, merge.Report, error)

// modify runs one round on a deck under its lock.
func (s *Service) modify(ctx context.Context, name, kind string, incoming int, change changeFunc) error {
	unlock := s.locks.lock(name)
	defer unlock()

	if err := s.store.Ensure(ctx, name); err != nil {
		return err
	}
	stored, err := s.store.Load(ctx, name)
	if err != nil {
		return err
	}
	cards, report, err := change(stored)
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, name, cards); err != nil {
		return err
	}

	s.log.Info("deck saved",
		"deck", name,
		"kind", kind,
		"incoming", incoming,
		"added", len(report.Added),
		"replaced", report.Replaced,
		"rejected", report.Rejected,
		"skipped", report.Skipped,
		"purged", len(report.Purged),
		"total", len(cards),
	)
	s.record(ctx, storage.Round{
		Deck:      name,
		Kind:      kind,
		Incoming:  incoming,
		Added:     len(report.Added),
		Replaced:  report.Replaced,
		Rejected:  report.Rejected,
		Skipped:   report.Skipped,
		Total:     len(cards),
		Purged:    report.Purged,
		CreatedAt: s.now().UTC(),
	}, report.Added)
	s.commit(name, kind, report)
	return nil
}

// record journals a round. A card appended under a question whose
// tombstone was purged earlier is logged: the purge took the tombstone's
// protection with it, so this may be a stale edit coming back.
func (s *Service) record(ctx context.Context, round storage.Round, added []string) {
	if s.journal == nil {
		return
	}
	purgedNow := make(map[string]bool, len(round.Purged))
	for _, q := range round.Purged {
		purgedNow[q] = true
	}
	for _, q := range added {
		if purgedNow[q] {
			continue
		}
		tomb, err := s.journal.FindTombstone(ctx, round.Deck, q)
		if err != nil {
			s.log.Warn("Failed to look up tombstone", "deck", round.Deck, "question", q, "error", err)
			continue
		}
		if tomb != nil {
			s.log.Warn("card re-added after its tombstone was purged",
				"deck", round.Deck, "question", q, "purged_at", tomb.PurgedAt)
		}
	}
	if _, err := s.journal.RecordRound(ctx, round); err != nil {
		s.log.Warn("Failed to record round", "deck", round.Deck, "error", err)
	}
}

func (s *Service) commit(name, kind string, report merge.Report) {
	if s.history == nil {
		return
	}
	msg := fmt.Sprintf("%s %s: %d added, %d replaced, %d purged",
		kind, name, len(report.Added), report.Replaced, len(report.Purged))
	if _, err := s.history.Commit(name, deckstore.CardsFile, msg); err != nil {
		s.log.Warn("Failed to commit deck history", "deck", name, "error", err)
	}
}
