package storage

const schema = `
-- One row per reconciliation of a deck, either a sync round or a single-card upsert.
CREATE TABLE IF NOT EXISTS rounds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deck TEXT NOT NULL,
    kind TEXT NOT NULL, -- 'sync' or 'upsert'
    incoming INTEGER NOT NULL DEFAULT 0,
    added INTEGER NOT NULL DEFAULT 0,
    replaced INTEGER NOT NULL DEFAULT 0,
    rejected INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rounds_deck ON rounds(deck, id);

-- Tombstones removed from a deck. Merges never read this table; once a
-- tombstone is purged a stale edit of the same question is accepted again.
CREATE TABLE IF NOT EXISTS purged_tombstones (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    round_id INTEGER NOT NULL,
    deck TEXT NOT NULL,
    question TEXT NOT NULL,
    purged_at DATETIME NOT NULL,

    FOREIGN KEY(round_id) REFERENCES rounds(id)
);

CREATE INDEX IF NOT EXISTS idx_purged_deck_question ON purged_tombstones(deck, question);
`
