package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	stdsync "sync"
	"testing"
	"time"

	"github.com/conorfennell/flashdeck/internal/deckstore"
	"github.com/conorfennell/flashdeck/internal/domain"
	"github.com/conorfennell/flashdeck/internal/storage"
)

type fakeJournal struct {
	mu      stdsync.Mutex
	rounds  []storage.Round
	tombs   map[string]*storage.Tombstone
	lookups []string
}

func (j *fakeJournal) RecordRound(_ context.Context, r storage.Round) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rounds = append(j.rounds, r)
	return int64(len(j.rounds)), nil
}

func (j *fakeJournal) RecentRounds(_ context.Context, deck string, limit int) ([]storage.Round, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []storage.Round
	for i := len(j.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		if j.rounds[i].Deck == deck {
			out = append(out, j.rounds[i])
		}
	}
	return out, nil
}

func (j *fakeJournal) FindTombstone(_ context.Context, deck, question string) (*storage.Tombstone, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lookups = append(j.lookups, question)
	return j.tombs[deck+"/"+question], nil
}

type fakeHistory struct {
	mu      stdsync.Mutex
	commits []string
}

func (h *fakeHistory) Commit(deck, file, message string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits = append(h.commits, deck+"/"+file+": "+message)
	return true, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *deckstore.FileStore) {
	t.Helper()
	store := deckstore.NewFileStore(t.TempDir())
	return NewService(store, opts...), store
}

func snapshot(decks map[string][]domain.Card) domain.Snapshot {
	s := domain.Snapshot{Decks: map[string]domain.Deck{}}
	for name, cards := range decks {
		s.Decks[name] = domain.Deck{Cards: cards}
	}
	return s
}

func questions(cards []domain.Card) []string {
	out := []string{}
	for _, c := range cards {
		q, _ := c.Question()
		out = append(out, q)
	}
	return out
}

func TestSyncMergesAndReturnsAllDecks(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if err := store.Save(ctx, "spanish", []domain.Card{{"question": "hola", "time": 1}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "french", []domain.Card{
		{"question": "q1", "time": 5, "answer": "server"},
		{"question": "q2", "time": 1},
	}); err != nil {
		t.Fatal(err)
	}

	out, err := svc.Sync(ctx, snapshot(map[string][]domain.Card{
		"french": {
			{"question": "q1", "time": 3, "answer": "client"},
			{"question": "q2", "time": 2, "deleted": true},
			{"question": "q3", "time": 2},
		},
		"german": {{"question": "hallo", "time": 1}},
	}))
	if err != nil {
		t.Fatalf("Sync() returned an unexpected error: %v", err)
	}

	if len(out.Decks) != 3 {
		t.Fatalf("Expected 3 decks, but got %d: %v", len(out.Decks), out.Decks)
	}
	french := out.Decks["french"]
	if french.Name != "french" {
		t.Errorf("Expected deck name in the response, but got %q", french.Name)
	}
	if got := questions(french.Cards); !reflect.DeepEqual(got, []string{"q1", "q3"}) {
		t.Errorf("Expected [q1 q3], but got %v", got)
	}
	if french.Cards[0]["answer"] != "server" {
		t.Errorf("Expected the newer server card to win, but got %v", french.Cards[0])
	}
	if got := questions(out.Decks["german"].Cards); !reflect.DeepEqual(got, []string{"hallo"}) {
		t.Errorf("Expected the new deck to be created, but got %v", got)
	}
	if got := questions(out.Decks["spanish"].Cards); !reflect.DeepEqual(got, []string{"hola"}) {
		t.Errorf("Expected untouched decks in the response, but got %v", got)
	}

	stored, err := store.Load(ctx, "french")
	if err != nil {
		t.Fatal(err)
	}
	if got := questions(stored); !reflect.DeepEqual(got, []string{"q1", "q3"}) {
		t.Errorf("Expected merged cards to be persisted, but got %v", got)
	}
}

func TestSyncEmptySnapshotPulls(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	if err := store.Save(ctx, "french", []domain.Card{{"question": "q1"}}); err != nil {
		t.Fatal(err)
	}

	out, err := svc.Sync(ctx, domain.Snapshot{})
	if err != nil {
		t.Fatalf("Sync() returned an unexpected error: %v", err)
	}
	if len(out.Decks) != 1 || len(out.Decks["french"].Cards) != 1 {
		t.Errorf("Expected the stored deck, but got %v", out.Decks)
	}
}

func TestSyncRejectsInvalidInputWithoutWriting(t *testing.T) {
	testCases := []struct {
		name  string
		decks map[string][]domain.Card
		want  error
	}{
		{
			name:  "Invalid deck name",
			decks: map[string][]domain.Card{"good": {{"question": "q", "time": 1}}, "../bad": {}},
			want:  domain.ErrInvalidName,
		},
		{
			name:  "Empty deck name",
			decks: map[string][]domain.Card{"good": {{"question": "q", "time": 1}}, "": {}},
			want:  domain.ErrInvalidName,
		},
		{
			name:  "Card without question",
			decks: map[string][]domain.Card{"good": {{"question": "q", "time": 1}}, "other": {{"time": 1}}},
			want:  domain.ErrMalformedCard,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			svc, store := newTestService(t)

			_, err := svc.Sync(ctx, snapshot(tc.decks))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Expected %v, but got %v", tc.want, err)
			}
			names, err := store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(names) != 0 {
				t.Errorf("Expected nothing to be written, but found decks %v", names)
			}
		})
	}
}

func TestSyncSurfacesCorruptDeck(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	dir := filepath.Join(store.Root(), "french")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, deckstore.CardsFile), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Sync(ctx, snapshot(map[string][]domain.Card{"french": {{"question": "q", "time": 1}}}))
	if !errors.Is(err, domain.ErrCorruptData) {
		t.Fatalf("Expected ErrCorruptData, but got %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, deckstore.CardsFile))
	if string(data) != "{broken" {
		t.Errorf("Expected corrupt data to be left alone, but got %q", data)
	}
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	if err := svc.Upsert(ctx, "french", domain.Card{"question": "q1", "time": 5, "answer": "a"}); err != nil {
		t.Fatalf("Upsert() returned an unexpected error: %v", err)
	}
	// Older time still wins on the upsert path.
	if err := svc.Upsert(ctx, "french", domain.Card{"question": "q1", "time": 1, "answer": "b"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Upsert(ctx, "french", domain.Card{"question": "q2"}); err != nil {
		t.Fatal(err)
	}

	cards, err := store.Load(ctx, "french")
	if err != nil {
		t.Fatal(err)
	}
	if got := questions(cards); !reflect.DeepEqual(got, []string{"q1", "q2"}) {
		t.Fatalf("Expected [q1 q2], but got %v", got)
	}
	if cards[0]["answer"] != "b" {
		t.Errorf("Expected the upserted card to replace regardless of time, but got %v", cards[0])
	}

	if err := svc.Upsert(ctx, "bad/name", domain.Card{"question": "q"}); !errors.Is(err, domain.ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName, but got %v", err)
	}
	if err := svc.Upsert(ctx, "french", domain.Card{"answer": "no question"}); !errors.Is(err, domain.ErrMalformedCard) {
		t.Errorf("Expected ErrMalformedCard, but got %v", err)
	}
}

// A tombstone stored through upsert blocks a stale edit on the next sync.
func TestUpsertedTombstoneBlocksStaleSync(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if err := svc.Upsert(ctx, "french", domain.Card{"question": "q1", "time": 5, "deleted": true}); err != nil {
		t.Fatal(err)
	}
	out, err := svc.Sync(ctx, snapshot(map[string][]domain.Card{"french": {{"question": "q1", "time": 3}}}))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(out.Decks["french"].Cards); n != 0 {
		t.Errorf("Expected the tombstone to win and be purged, but got %d cards", n)
	}
}

func TestConcurrentSyncsOnOneDeckKeepEveryCard(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	const writers = 20
	var wg stdsync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			card := domain.Card{"question": fmt.Sprintf("q%d", i), "time": i + 1}
			if _, err := svc.Sync(ctx, snapshot(map[string][]domain.Card{"shared": {card}})); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Sync() returned an unexpected error: %v", err)
	}

	cards, err := store.Load(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != writers {
		t.Errorf("Expected %d cards, but got %d", writers, len(cards))
	}
	if n := svc.locks.size(); n != 0 {
		t.Errorf("Expected deck locks to be released, but %d remain", n)
	}
}

func TestJournalAndHistory(t *testing.T) {
	ctx := context.Background()
	journal := &fakeJournal{tombs: map[string]*storage.Tombstone{
		"french/q9": {Deck: "french", Question: "q9", PurgedAt: time.Unix(1, 0)},
	}}
	history := &fakeHistory{}
	at := time.Date(2014, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithJournal(journal), WithHistory(history), WithClock(func() time.Time { return at }))

	_, err := svc.Sync(ctx, snapshot(map[string][]domain.Card{"french": {
		{"question": "q1", "time": 1},
		{"question": "q2", "time": 1, "deleted": true},
		{"question": "q9", "time": 1},
	}}))
	if err != nil {
		t.Fatal(err)
	}

	if len(journal.rounds) != 1 {
		t.Fatalf("Expected 1 journal round, but got %d", len(journal.rounds))
	}
	r := journal.rounds[0]
	if r.Kind != storage.KindSync || r.Incoming != 3 || r.Added != 3 || r.Total != 2 || !r.CreatedAt.Equal(at) {
		t.Errorf("Unexpected round %+v", r)
	}
	if !reflect.DeepEqual(r.Purged, []string{"q2"}) {
		t.Errorf("Expected purged [q2], but got %v", r.Purged)
	}
	if !reflect.DeepEqual(journal.lookups, []string{"q1", "q9"}) {
		t.Errorf("Expected tombstone lookups for re-added cards only, but got %v", journal.lookups)
	}
	if len(history.commits) != 1 || history.commits[0] != "french/cards.json: sync french: 3 added, 0 replaced, 1 purged" {
		t.Errorf("Unexpected history commits %v", history.commits)
	}

	rounds, err := svc.Rounds(ctx, "french", 10)
	if err != nil || len(rounds) != 1 {
		t.Errorf("Expected 1 round from Rounds(), got %v, %v", rounds, err)
	}
}

func TestRoundsWithoutJournal(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Rounds(context.Background(), "french", 10); !errors.Is(err, ErrNoJournal) {
		t.Errorf("Expected ErrNoJournal, but got %v", err)
	}
}

func TestReviewAndDue(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2014, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, WithClock(func() time.Time { return at }))

	if err := store.Save(ctx, "french", []domain.Card{
		{"question": "due", "time": float64(at.Unix() - 100), "level": 1},
		{"question": "waiting", "time": float64(at.Unix()), "level": 5},
	}); err != nil {
		t.Fatal(err)
	}

	due, err := svc.Due(ctx, "french")
	if err != nil {
		t.Fatal(err)
	}
	if got := questions(due); !reflect.DeepEqual(got, []string{"due"}) {
		t.Errorf("Expected [due], but got %v", got)
	}

	graded, err := svc.Review(ctx, "french", "due", true)
	if err != nil {
		t.Fatalf("Review() returned an unexpected error: %v", err)
	}
	if graded.Level() != 2 {
		t.Errorf("Expected level 2, but got %d", graded.Level())
	}
	cards, _ := store.Load(ctx, "french")
	if cards[0].Level() != 2 {
		t.Errorf("Expected the graded card to be stored, but got %v", cards[0])
	}

	if _, err := svc.Review(ctx, "french", "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestNext(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2014, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, WithClock(func() time.Time { return at }))

	if err := store.Save(ctx, "french", []domain.Card{
		{"question": "waiting", "time": float64(at.Unix()), "level": 5},
		{"question": "fresh"},
		{"question": "gone", "deleted": true},
	}); err != nil {
		t.Fatal(err)
	}

	card, err := svc.Next(ctx, "french")
	if err != nil {
		t.Fatalf("Next() returned an unexpected error: %v", err)
	}
	if q, _ := card.Question(); q != "fresh" {
		t.Errorf("Expected the never reviewed card, but got %q", q)
	}

	if err := store.Save(ctx, "empty", []domain.Card{{"question": "gone", "deleted": true}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Next(ctx, "empty"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a deck without live cards, but got %v", err)
	}
}
