package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// SettingMaxConcurrent is the pool size last set through the API.
const SettingMaxConcurrent = "max_concurrent"

// SettingsRepo stores values changed at runtime that must outlive a restart.
type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get returns "" for a key that was never set.
func (r *SettingsRepo) Get(key string) (string, error) {
	var value string
	err := r.db.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetInt reports ok=false when the key is unset.
func (r *SettingsRepo) GetInt(key string) (n int, ok bool, err error) {
	value, err := r.Get(key)
	if err != nil || value == "" {
		return 0, false, err
	}
	n, err = strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("setting %s: %w", key, err)
	}
	return n, true, nil
}

func (r *SettingsRepo) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, r.db.now())
	return err
}

func (r *SettingsRepo) Delete(key string) error {
	_, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}
