package store

const Schema = `
CREATE TABLE IF NOT EXISTS downloads (
	track_id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_hash TEXT,
	quality TEXT,
	completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_downloads_item_id ON downloads(item_id);
CREATE INDEX IF NOT EXISTS idx_downloads_completed_at ON downloads(completed_at);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	data BLOB,
	expires_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
