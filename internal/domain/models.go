package domain

import (
	"time"
)

// CatalogTrack represents a track from the provider/catalog
type CatalogTrack struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	AlbumID     string `json:"album_id,omitempty"`
	Duration    int    `json:"duration"`
	TrackNumber int    `json:"track_number,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
	Readable    bool   `json:"readable"`
}

// TrackInfo converts a catalog track into the queue representation.
func (t CatalogTrack) TrackInfo() TrackInfo {
	return TrackInfo{
		TrackID:         t.ID,
		Title:           t.Title,
		Artist:          t.Artist,
		DurationSeconds: t.Duration,
		TrackNumber:     t.TrackNumber,
		DiscNumber:      t.DiscNumber,
	}
}

type Album struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	AlbumArtURL string         `json:"album_art_url,omitempty"`
	ReleaseDate string         `json:"release_date,omitempty"`
	Label       string         `json:"label,omitempty"`
	TotalTracks int            `json:"total_tracks"`
	Tracks      []CatalogTrack `json:"tracks"`
}

type Playlist struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Creator     string         `json:"creator,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	TotalTracks int            `json:"total_tracks"`
	Tracks      []CatalogTrack `json:"tracks"`
}

// Download is a finalized track recorded in the history table.
type Download struct {
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
	TrackID     string    `json:"track_id" db:"track_id"`
	ItemID      string    `json:"item_id" db:"item_id"`
	FilePath    string    `json:"file_path" db:"file_path"`
	FileHash    string    `json:"file_hash" db:"file_hash"`
	Quality     string    `json:"quality" db:"quality"`
}
