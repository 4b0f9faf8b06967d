package catalog

import (
	"context"

	"github.com/cesargomez89/stripedl/internal/domain"
)

// Session covers the calls a download worker makes.
type Session interface {
	// RefreshSession renews the signing tokens used by ResolveTrackURL.
	RefreshSession(ctx context.Context) error
	// ResolveTrackURL returns a signed media URL or one of the sentinel errors.
	ResolveTrackURL(ctx context.Context, trackID, quality string) (string, error)
}

// Catalog covers the metadata calls used to build queue items.
type Catalog interface {
	GetTrack(ctx context.Context, id string) (*domain.CatalogTrack, error)
	GetAlbum(ctx context.Context, id string) (*domain.Album, error)
	ListAlbumTracks(ctx context.Context, albumID string, limit, offset int) ([]domain.CatalogTrack, error)
	GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error)
	ListPlaylistTracks(ctx context.Context, playlistID string, limit, offset int) ([]domain.CatalogTrack, error)
}

type Provider interface {
	Session
	Catalog
}
