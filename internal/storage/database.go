package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB is the sync journal: a record of every reconciliation applied to a deck.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Kinds of rounds.
const (
	KindSync   = "sync"
	KindUpsert = "upsert"
)

// Round describes one reconciliation of a deck.
type Round struct {
	ID        int64
	Deck      string
	Kind      string
	Incoming  int
	Added     int
	Replaced  int
	Rejected  int
	Skipped   int
	Total     int      // cards stored after the round
	Purged    []string // questions of the tombstones removed
	CreatedAt time.Time
}

// Tombstone is a deleted card purged from a deck.
type Tombstone struct {
	RoundID  int64
	Deck     string
	Question string
	PurgedAt time.Time
}

// RecordRound stores a round and its purged tombstones in one transaction
// and returns the round ID.
func (db *DB) RecordRound(ctx context.Context, r Round) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (deck, kind, incoming, added, replaced, rejected, skipped, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Deck,
		r.Kind,
		r.Incoming,
		r.Added,
		r.Replaced,
		r.Rejected,
		r.Skipped,
		r.Total,
		r.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert round for deck %s: %w", r.Deck, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for deck %s: %w", r.Deck, err)
	}

	for _, q := range r.Purged {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purged_tombstones (round_id, deck, question, purged_at)
			VALUES (?, ?, ?, ?)
		`, id, r.Deck, q, r.CreatedAt); err != nil {
			return 0, fmt.Errorf("failed to record purged card in deck %s: %w", r.Deck, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit round for deck %s: %w", r.Deck, err)
	}
	return id, nil
}

// RecentRounds returns the latest rounds of a deck, newest first.
func (db *DB) RecentRounds(ctx context.Context, deck string, limit int) ([]Round, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, deck, kind, incoming, added, replaced, rejected, skipped, total, created_at
		FROM rounds WHERE deck = ?
		ORDER BY id DESC
		LIMIT ?
	`, deck, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds for deck %s: %w", deck, err)
	}
	defer rows.Close()

	rounds := []Round{}
	for rows.Next() {
		var r Round
		if err := rows.Scan(
			&r.ID,
			&r.Deck,
			&r.Kind,
			&r.Incoming,
			&r.Added,
			&r.Replaced,
			&r.Rejected,
			&r.Skipped,
			&r.Total,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan round row for deck %s: %w", deck, err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rounds for deck %s: %w", deck, err)
	}

	for i := range rounds {
		tombs, err := db.purgedInRound(ctx, rounds[i].ID)
		if err != nil {
			return nil, err
		}
		rounds[i].Purged = tombs
	}
	return rounds, nil
}

func (db *DB) purgedInRound(ctx context.Context, roundID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT question FROM purged_tombstones WHERE round_id = ? ORDER BY id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get purged cards for round %d: %w", roundID, err)
	}
	defer rows.Close()

	var questions []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("failed to scan purged card for round %d: %w", roundID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// FindTombstone returns the latest purge of a question in a deck, or nil
// if the question was never purged.
func (db *DB) FindTombstone(ctx context.Context, deck, question string) (*Tombstone, error) {
	var t Tombstone
	row := db.conn.QueryRowContext(ctx, `
		SELECT round_id, deck, question, purged_at
		FROM purged_tombstones WHERE deck = ? AND question = ?
		ORDER BY id DESC LIMIT 1
	`, deck, question)

	err := row.Scan(&t.RoundID, &t.Deck, &t.Question, &t.PurgedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Never purged
		}
		return nil, fmt.Errorf("failed to find tombstone for %q in deck %s: %w", question, deck, err)
	}
	return &t, nil
}
