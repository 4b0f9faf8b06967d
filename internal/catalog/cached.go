package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/cesargomez89/stripedl/internal/domain"
)

type Cache interface {
	GetCache(key string) ([]byte, error)
	SetCache(key string, data []byte, ttl time.Duration) error
	ClearCache() error
}

// CachedProvider caches catalog metadata. Session calls are never cached
// because signed URLs and tokens expire.
type CachedProvider struct {
	provider Provider
	cache    Cache
	cacheTTL time.Duration
}

func NewCachedProvider(provider Provider, cache Cache, cacheTTL time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func (c *CachedProvider) RefreshSession(ctx context.Context) error {
	return c.provider.RefreshSession(ctx)
}

func (c *CachedProvider) ResolveTrackURL(ctx context.Context, trackID, quality string) (string, error) {
	return c.provider.ResolveTrackURL(ctx, trackID, quality)
}

func (c *CachedProvider) GetTrack(ctx context.Context, id string) (*domain.CatalogTrack, error) {
	return cached(c, "track:"+id, func() (*domain.CatalogTrack, error) {
		return c.provider.GetTrack(ctx, id)
	})
}

func (c *CachedProvider) GetAlbum(ctx context.Context, id string) (*domain.Album, error) {
	return cached(c, "album:"+id, func() (*domain.Album, error) {
		return c.provider.GetAlbum(ctx, id)
	})
}

func (c *CachedProvider) ListAlbumTracks(ctx context.Context, albumID string, limit, offset int) ([]domain.CatalogTrack, error) {
	key := fmt.Sprintf("album_tracks:%s:%d:%d", albumID, limit, offset)
	return cached(c, key, func() ([]domain.CatalogTrack, error) {
		return c.provider.ListAlbumTracks(ctx, albumID, limit, offset)
	})
}

func (c *CachedProvider) GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	return cached(c, "playlist:"+id, func() (*domain.Playlist, error) {
		return c.provider.GetPlaylist(ctx, id)
	})
}

func (c *CachedProvider) ListPlaylistTracks(ctx context.Context, playlistID string, limit, offset int) ([]domain.CatalogTrack, error) {
	key := fmt.Sprintf("playlist_tracks:%s:%d:%d", playlistID, limit, offset)
	return cached(c, key, func() ([]domain.CatalogTrack, error) {
		return c.provider.ListPlaylistTracks(ctx, playlistID, limit, offset)
	})
}

// cached serves key from the cache or fetches and stores it. Cache write
// failures are ignored; a broken cache only costs an extra request.
func cached[T any](c *CachedProvider, key string, fetch func() (T, error)) (T, error) {
	var zero T

	data, err := c.cache.GetCache(key)
	if err != nil {
		return zero, err
	}
	if data != nil {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
	}

	v, err := fetch()
	if err != nil {
		return zero, err
	}

	if data, err := json.Marshal(v); err == nil {
		_ = c.cache.SetCache(key, data, c.cacheTTL)
	}
	return v, nil
}

func (c *CachedProvider) ClearCache() error {
	return c.cache.ClearCache()
}
