package sqlite

const schema = `
-- One row per (ticket, source record). Timestamps are fixed-width UTC text so
-- lexical order matches chronological order.
CREATE TABLE IF NOT EXISTS bug_records (
    ticket_id TEXT NOT NULL,
    sort_key TEXT NOT NULL,
    source_system TEXT NOT NULL CHECK(source_system IN ('slack', 'zendesk', 'shortcut')),
    source_record_id TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    assignee TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT '',
    source_updated_at TEXT NOT NULL DEFAULT '',
    synced_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (ticket_id, sort_key)
);

CREATE INDEX IF NOT EXISTS idx_bug_records_priority ON bug_records(priority, created_at);
CREATE INDEX IF NOT EXISTS idx_bug_records_state ON bug_records(state, created_at);
CREATE INDEX IF NOT EXISTS idx_bug_records_source ON bug_records(source_system, created_at);
-- Note: linked_from, stale and extra are added in migrations/

-- Metadata table (internal state, e.g. last sync time per source)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
