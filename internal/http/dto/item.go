package dto

import (
	"time"

	"github.com/samber/lo"

	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/queue"
)

type TrackResponse struct {
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Duration    int    `json:"duration"`
	TrackNumber int    `json:"track_number,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
}

type ItemResponse struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	ProviderID      string          `json:"provider_id"`
	Title           string          `json:"title"`
	Artist          string          `json:"artist"`
	CoverURL        string          `json:"cover_url,omitempty"`
	TotalTracks     int             `json:"total_tracks"`
	State           string          `json:"state"`
	Progress        float64         `json:"progress"`
	CompletedTracks int             `json:"completed_tracks"`
	FailedTracks    int             `json:"failed_tracks"`
	RetryCount      int             `json:"retry_count"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	Tracks          []TrackResponse `json:"tracks,omitempty"`
}

// NewItemResponse flattens an entry. Track lists are only included on request
// since playlists can be long.
func NewItemResponse(e queue.Entry, withTracks bool) ItemResponse {
	resp := ItemResponse{
		ID:              e.Item.ID,
		Type:            string(e.Item.Type),
		ProviderID:      e.Item.ProviderID,
		Title:           e.Item.Title,
		Artist:          e.Item.Artist,
		CoverURL:        e.Item.AlbumCoverURL,
		TotalTracks:     e.Item.TotalTracks,
		State:           string(e.State.State),
		Progress:        e.State.Progress,
		CompletedTracks: e.State.CompletedTracks,
		FailedTracks:    e.State.FailedTracks,
		RetryCount:      e.State.RetryCount,
		Error:           e.State.ErrorMessage,
		CreatedAt:       e.Item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       e.State.UpdatedAt.Format(time.RFC3339),
	}
	if withTracks {
		resp.Tracks = lo.Map(e.Item.Tracks, func(t domain.TrackInfo, _ int) TrackResponse {
			return TrackResponse{
				TrackID:     t.TrackID,
				Title:       t.Title,
				Artist:      t.Artist,
				Duration:    t.DurationSeconds,
				TrackNumber: t.TrackNumber,
				DiscNumber:  t.DiscNumber,
			}
		})
	}
	return resp
}

func NewItemList(entries []queue.Entry) []ItemResponse {
	return lo.Map(entries, func(e queue.Entry, _ int) ItemResponse { return NewItemResponse(e, false) })
}

type QueueResponse struct {
	Items  []ItemResponse `json:"items"`
	Counts map[string]int `json:"counts"`
}

func NewQueueResponse(entries []queue.Entry) QueueResponse {
	counts := lo.CountValuesBy(entries, func(e queue.Entry) string { return string(e.State.State) })
	return QueueResponse{Items: NewItemList(entries), Counts: counts}
}

type DownloadResponse struct {
	TrackID     string `json:"track_id"`
	ItemID      string `json:"item_id"`
	FilePath    string `json:"file_path"`
	FileHash    string `json:"file_hash"`
	Quality     string `json:"quality"`
	CompletedAt string `json:"completed_at"`
}

func NewDownloadList(downloads []*domain.Download) []DownloadResponse {
	return lo.Map(downloads, func(d *domain.Download, _ int) DownloadResponse {
		return DownloadResponse{
			TrackID:     d.TrackID,
			ItemID:      d.ItemID,
			FilePath:    d.FilePath,
			FileHash:    d.FileHash,
			Quality:     d.Quality,
			CompletedAt: d.CompletedAt.Format(time.RFC3339),
		}
	})
}
