package store

import "database/sql"

// Schema is the complete linker schema.
const Schema = `
-- Documents: the markup smart links are placed into
CREATE TABLE IF NOT EXISTS documents (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    permalink  TEXT NOT NULL DEFAULT '',
    content    TEXT NOT NULL DEFAULT '',
    plain      INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Smart-link registry: one row per link UID
CREATE TABLE IF NOT EXISTS smart_links (
    uid            TEXT PRIMARY KEY,
    source_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    destination_id TEXT NOT NULL DEFAULT '',
    href           TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    text           TEXT NOT NULL,
    text_offset    INTEGER NOT NULL DEFAULT 0,
    context        TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'pending',
    applied_at     INTEGER,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_smart_links_source ON smart_links(source_id, status);
CREATE INDEX IF NOT EXISTS idx_smart_links_destination ON smart_links(destination_id, status);

-- Original links replaced by a smart link, for exact restore on removal.
-- attrs_json keeps the attribute list ordered.
CREATE TABLE IF NOT EXISTS original_links (
    link_uid     TEXT PRIMARY KEY REFERENCES smart_links(uid) ON DELETE CASCADE,
    attrs_json   TEXT NOT NULL,
    replaced_uid TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);

-- Paragraph backups captured before each mutation; latest per UID only
CREATE TABLE IF NOT EXISTS backups (
    link_uid    TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    block_id    TEXT NOT NULL DEFAULT '',
    paragraph   TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

-- Full-content revisions captured before each mutation
CREATE TABLE IF NOT EXISTS revisions (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    content     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_document ON revisions(document_id, created_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
