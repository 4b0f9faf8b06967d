package store

import (
	"database/sql"
	"errors"
	"time"
)

// Catalog responses are cached with an absolute expiry in unix seconds;
// 0 means the entry never expires.

// GetCache returns nil, nil for a missing or expired key.
func (db *DB) GetCache(key string) ([]byte, error) {
	var data []byte
	err := db.Get(&data, `
		SELECT data FROM cache
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`, key, db.now().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

func (db *DB) SetCache(key string, data []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = db.now().Add(ttl).Unix()
	}

	_, err := db.Exec(`
		INSERT INTO cache (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, key, data, expiresAt)
	return err
}

// PurgeExpiredCache deletes expired entries and reports how many went.
func (db *DB) PurgeExpiredCache() (int64, error) {
	res, err := db.Exec("DELETE FROM cache WHERE expires_at != 0 AND expires_at <= ?", db.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) ClearCache() error {
	_, err := db.Exec("DELETE FROM cache")
	return err
}
