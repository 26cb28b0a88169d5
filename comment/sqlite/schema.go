package sqlite

// Schema creates the annotation tables. Executed on every open;
// CREATE IF NOT EXISTS keeps it idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS annotations (
	id          TEXT PRIMARY KEY,
	page_key    TEXT NOT NULL,
	x           REAL NOT NULL,
	y           REAL NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	resolved    INTEGER NOT NULL DEFAULT 0,
	selector    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_annotations_page
	ON annotations(page_key, created_at);

CREATE TABLE IF NOT EXISTS replies (
	id             TEXT PRIMARY KEY,
	annotation_id  TEXT NOT NULL REFERENCES annotations(id) ON DELETE CASCADE,
	body           TEXT NOT NULL DEFAULT '',
	author         TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replies_annotation
	ON replies(annotation_id, created_at);
`
