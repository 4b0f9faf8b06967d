package app

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/cesargomez89/stripedl/internal/catalog"
	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/logger"
)

// ItemFactory turns a provider id into a queue item with its full track list.
type ItemFactory struct {
	Catalog  catalog.Catalog
	Logger   *logger.Logger
	PageSize int
}

func NewItemFactory(c catalog.Catalog, log *logger.Logger) *ItemFactory {
	if log == nil {
		log = logger.Default()
	}
	return &ItemFactory{
		Catalog:  c,
		Logger:   log.WithComponent("factory"),
		PageSize: constants.DefaultPageSize,
	}
}

func (f *ItemFactory) Build(ctx context.Context, itemType domain.ItemType, providerID string) (domain.QueueItem, error) {
	switch itemType {
	case domain.ItemTypeAlbum:
		return f.buildAlbum(ctx, providerID)
	case domain.ItemTypePlaylist:
		return f.buildPlaylist(ctx, providerID)
	case domain.ItemTypeTrack:
		return f.buildTrack(ctx, providerID)
	default:
		return domain.QueueItem{}, fmt.Errorf("unknown item type %q", itemType)
	}
}

func (f *ItemFactory) buildTrack(ctx context.Context, id string) (domain.QueueItem, error) {
	track, err := f.Catalog.GetTrack(ctx, id)
	if err != nil {
		return domain.QueueItem{}, err
	}
	return domain.NewQueueItem(domain.ItemTypeTrack, id, track.Title, track.Artist, "", []domain.TrackInfo{track.TrackInfo()})
}

func (f *ItemFactory) buildAlbum(ctx context.Context, id string) (domain.QueueItem, error) {
	album, err := f.Catalog.GetAlbum(ctx, id)
	if err != nil {
		return domain.QueueItem{}, err
	}
	tracks, err := f.collect(ctx, album.Tracks, album.TotalTracks, func(limit, offset int) ([]domain.CatalogTrack, error) {
		return f.Catalog.ListAlbumTracks(ctx, id, limit, offset)
	})
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("failed to list album tracks: %w", err)
	}
	f.checkCount(domain.ItemTypeAlbum, id, album.TotalTracks, len(tracks))
	return domain.NewQueueItem(domain.ItemTypeAlbum, id, album.Title, album.Artist, album.AlbumArtURL, tracks)
}

func (f *ItemFactory) buildPlaylist(ctx context.Context, id string) (domain.QueueItem, error) {
	pl, err := f.Catalog.GetPlaylist(ctx, id)
	if err != nil {
		return domain.QueueItem{}, err
	}
	tracks, err := f.collect(ctx, pl.Tracks, pl.TotalTracks, func(limit, offset int) ([]domain.CatalogTrack, error) {
		return f.Catalog.ListPlaylistTracks(ctx, id, limit, offset)
	})
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("failed to list playlist tracks: %w", err)
	}
	f.checkCount(domain.ItemTypePlaylist, id, pl.TotalTracks, len(tracks))
	return domain.NewQueueItem(domain.ItemTypePlaylist, id, pl.Title, pl.Creator, pl.ImageURL, tracks)
}

// collect starts from the tracks embedded in the collection response and pages
// through the rest until declared is reached or a page comes back empty.
func (f *ItemFactory) collect(ctx context.Context, embedded []domain.CatalogTrack, declared int, list func(limit, offset int) ([]domain.CatalogTrack, error)) ([]domain.TrackInfo, error) {
	collected := append([]domain.CatalogTrack(nil), embedded...)
	for len(collected) < declared {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := list(f.PageSize, len(collected))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
	}
	collected = lo.UniqBy(collected, func(t domain.CatalogTrack) string { return t.ID })
	return lo.Map(collected, func(t domain.CatalogTrack, _ int) domain.TrackInfo { return t.TrackInfo() }), nil
}

func (f *ItemFactory) checkCount(itemType domain.ItemType, id string, declared, got int) {
	if declared != got {
		f.Logger.Warn("Track count differs from catalog", "type", itemType, "provider_id", id, "declared", declared, "collected", got)
	}
}
