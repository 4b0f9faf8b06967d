package store

import (
	"database/sql"
	"errors"

	"github.com/cesargomez89/stripedl/internal/domain"
)

func (db *DB) CreateDownload(download *domain.Download) error {
	query := `INSERT OR REPLACE INTO downloads (track_id, item_id, file_path, file_hash, quality, completed_at)
		VALUES (:track_id, :item_id, :file_path, :file_hash, :quality, :completed_at)`
	_, err := db.NamedExec(query, download)
	return err
}

// GetDownload returns nil, nil when the track was never downloaded.
func (db *DB) GetDownload(trackID string) (*domain.Download, error) {
	var download domain.Download
	err := db.Get(&download, `SELECT track_id, item_id, file_path, file_hash, quality, completed_at FROM downloads WHERE track_id = ?`, trackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &download, nil
}

func (db *DB) ListDownloads(limit int) ([]*domain.Download, error) {
	var downloads []*domain.Download
	err := db.Select(&downloads, `SELECT track_id, item_id, file_path, file_hash, quality, completed_at
		FROM downloads ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return downloads, nil
}

func (db *DB) ListDownloadsByItem(itemID string) ([]*domain.Download, error) {
	var downloads []*domain.Download
	err := db.Select(&downloads, `SELECT track_id, item_id, file_path, file_hash, quality, completed_at
		FROM downloads WHERE item_id = ? ORDER BY completed_at`, itemID)
	if err != nil {
		return nil, err
	}
	return downloads, nil
}
