package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/storage"
	"github.com/cesargomez89/stripedl/internal/tagging"
)

type DownloadRecorder interface {
	CreateDownload(download *domain.Download) error
}

type FinalizeRequest struct {
	SourcePath string
	DestPath   string
	Track      domain.TrackInfo
	Item       domain.QueueItem
	Quality    string
}

// Finalizer moves a decrypted track into the library, tags it and records it.
type Finalizer struct {
	Recorder DownloadRecorder
	Logger   *logger.Logger

	moveRetries int
	moveBackoff time.Duration
	now         func() time.Time
}

func NewFinalizer(recorder DownloadRecorder, log *logger.Logger) *Finalizer {
	if log == nil {
		log = logger.Default()
	}
	return &Finalizer{
		Recorder:    recorder,
		Logger:      log.WithComponent("finalizer"),
		moveRetries: constants.MoveRetryCount,
		moveBackoff: constants.MoveRetryBase,
		now:         time.Now,
	}
}

func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) error {
	log := f.Logger.WithItem(req.Item.ID, string(req.Item.Type)).WithTrack(req.Track.TrackID, req.Track.Title)

	if err := storage.EnsureParentDir(req.DestPath); err != nil {
		return fmt.Errorf("failed to create destination dir: %w", err)
	}
	if err := f.move(ctx, req.SourcePath, req.DestPath); err != nil {
		return err
	}

	if err := tagging.TagFile(req.DestPath, tagsFor(req)); err != nil {
		log.Warn("Failed to tag file", "path", req.DestPath, "error", err)
	}

	hash, err := storage.HashFile(req.DestPath)
	if err != nil {
		log.Warn("Failed to hash file", "path", req.DestPath, "error", err)
	}

	if f.Recorder != nil {
		err := f.Recorder.CreateDownload(&domain.Download{
			TrackID:     req.Track.TrackID,
			ItemID:      req.Item.ID,
			FilePath:    req.DestPath,
			FileHash:    hash,
			Quality:     req.Quality,
			CompletedAt: f.now(),
		})
		if err != nil {
			log.Error("Failed to record download", "error", err)
		}
	}

	log.Debug("Track finalized", "path", req.DestPath)
	return nil
}

// move retries with a linear backoff because another process (a media
// scanner, an antivirus) may briefly hold the destination.
func (f *Finalizer) move(ctx context.Context, src, dst string) error {
	var err error
	for attempt := 1; attempt <= f.moveRetries; attempt++ {
		if err = storage.MoveFile(src, dst); err == nil {
			return nil
		}
		if storage.IsNotExist(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.moveBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("failed to move %s: %w", src, err)
}

func tagsFor(req FinalizeRequest) *tagging.TagData {
	data := &tagging.TagData{
		Title:       req.Track.Title,
		Artist:      req.Track.Artist,
		TrackNumber: req.Track.TrackNumber,
		DiscNumber:  req.Track.DiscNumber,
	}
	switch req.Item.Type {
	case domain.ItemTypeAlbum:
		data.Album = req.Item.Title
		data.AlbumArtist = req.Item.Artist
		data.TotalTracks = req.Item.TotalTracks
	case domain.ItemTypePlaylist:
		data.Album = req.Item.Title
	}
	return data
}
