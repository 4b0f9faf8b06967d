package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ItemType string

const (
	ItemTypeAlbum    ItemType = "album"
	ItemTypePlaylist ItemType = "playlist"
	ItemTypeTrack    ItemType = "track"
)

// ParseItemType maps a user supplied string onto a known ItemType.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(s); t {
	case ItemTypeAlbum, ItemTypePlaylist, ItemTypeTrack:
		return t, nil
	default:
		return "", fmt.Errorf("unknown item type %q", s)
	}
}

type DownloadState string

const (
	StateQueued      DownloadState = "queued"
	StateDownloading DownloadState = "downloading"
	StateCompleted   DownloadState = "completed"
	StateFailed      DownloadState = "failed"
	StateCancelled   DownloadState = "cancelled"
	StatePaused      DownloadState = "paused"
)

func (s DownloadState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s DownloadState) Valid() bool {
	switch s {
	case StateQueued, StateDownloading, StateCompleted, StateFailed, StateCancelled, StatePaused:
		return true
	}
	return false
}

// TrackInfo describes one track of a queue item. TrackNumber and DiscNumber are 0 when unknown.
type TrackInfo struct {
	TrackID         string `json:"track_id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	DurationSeconds int    `json:"duration_seconds"`
	TrackNumber     int    `json:"track_number,omitempty"`
	DiscNumber      int    `json:"disc_number,omitempty"`
}

var (
	ErrTrackCountMismatch = errors.New("total tracks does not match track list")
	ErrSingleTrack        = errors.New("track item must hold exactly one track")
	ErrMissingProviderID  = errors.New("provider id is required")
)

// QueueItem is one requested download unit. It is never mutated after creation;
// progress lives in QueueItemState.
type QueueItem struct {
	CreatedAt     time.Time   `json:"created_at"`
	ID            string      `json:"id"`
	Type          ItemType    `json:"item_type"`
	ProviderID    string      `json:"provider_id"`
	Title         string      `json:"title"`
	Artist        string      `json:"artist"`
	AlbumCoverURL string      `json:"album_cover_url,omitempty"`
	Tracks        []TrackInfo `json:"tracks"`
	TotalTracks   int         `json:"total_tracks"`
}

// NewQueueItem builds a validated item, generating an id and creation time.
func NewQueueItem(itemType ItemType, providerID, title, artist, coverURL string, tracks []TrackInfo) (QueueItem, error) {
	item := QueueItem{
		ID:            uuid.New().String(),
		Type:          itemType,
		ProviderID:    providerID,
		Title:         title,
		Artist:        artist,
		AlbumCoverURL: coverURL,
		Tracks:        append([]TrackInfo(nil), tracks...),
		TotalTracks:   len(tracks),
		CreatedAt:     time.Now(),
	}
	if err := item.Validate(); err != nil {
		return QueueItem{}, err
	}
	return item, nil
}

func (i QueueItem) Validate() error {
	if i.ProviderID == "" {
		return ErrMissingProviderID
	}
	if _, err := ParseItemType(string(i.Type)); err != nil {
		return err
	}
	if i.TotalTracks != len(i.Tracks) {
		return fmt.Errorf("%w: total=%d tracks=%d", ErrTrackCountMismatch, i.TotalTracks, len(i.Tracks))
	}
	if i.Type == ItemTypeTrack && len(i.Tracks) != 1 {
		return ErrSingleTrack
	}
	return nil
}

// Clone returns a copy that shares no slices with the receiver.
func (i QueueItem) Clone() QueueItem {
	i.Tracks = append([]TrackInfo(nil), i.Tracks...)
	return i
}

// QueueItemState is the mutable progress record of a QueueItem, keyed by item id.
type QueueItemState struct {
	UpdatedAt       time.Time     `json:"updated_at"`
	State           DownloadState `json:"state"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	Progress        float64       `json:"progress"`
	CompletedTracks int           `json:"completed_tracks"`
	FailedTracks    int           `json:"failed_tracks"`
	RetryCount      int           `json:"retry_count"`
}

func NewQueueItemState(now time.Time) QueueItemState {
	return QueueItemState{State: StateQueued, UpdatedAt: now}
}

func (s QueueItemState) IsActive() bool {
	return s.State == StateQueued || s.State == StateDownloading
}

func (s QueueItemState) IsFinished() bool {
	return s.State.IsTerminal()
}

func (s QueueItemState) CanRetry() bool {
	return s.State == StateFailed
}

// StateUpdate is a partial update; nil fields are left untouched.
type StateUpdate struct {
	State           *DownloadState
	Progress        *float64
	CompletedTracks *int
	FailedTracks    *int
	ErrorMessage    *string
	RetryCount      *int
}

// Apply merges u into s and stamps UpdatedAt.
func (u StateUpdate) Apply(s QueueItemState, now time.Time) QueueItemState {
	if u.State != nil {
		s.State = *u.State
	}
	if u.Progress != nil {
		s.Progress = ClampProgress(*u.Progress)
	}
	if u.CompletedTracks != nil {
		s.CompletedTracks = *u.CompletedTracks
	}
	if u.FailedTracks != nil {
		s.FailedTracks = *u.FailedTracks
	}
	if u.ErrorMessage != nil {
		s.ErrorMessage = *u.ErrorMessage
	}
	if u.RetryCount != nil {
		s.RetryCount = *u.RetryCount
	}
	s.UpdatedAt = now
	return s
}

// WithState is shorthand for an update that only changes the state.
func WithState(state DownloadState) StateUpdate {
	return StateUpdate{State: &state}
}

// ProgressUpdate reports track counters for an item with total tracks.
func ProgressUpdate(completed, failed, total int) StateUpdate {
	progress := 1.0
	if total > 0 {
		progress = float64(completed+failed) / float64(total)
	}
	return StateUpdate{
		Progress:        &progress,
		CompletedTracks: &completed,
		FailedTracks:    &failed,
	}
}

func ClampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// QueueSnapshot is the unit persisted to disk.
type QueueSnapshot struct {
	CreatedAt time.Time                 `json:"created_at"`
	Items     map[string]QueueItem      `json:"items"`
	States    map[string]QueueItemState `json:"states"`
}

func NewQueueSnapshot() *QueueSnapshot {
	return &QueueSnapshot{
		Items:     make(map[string]QueueItem),
		States:    make(map[string]QueueItemState),
		CreatedAt: time.Now(),
	}
}
