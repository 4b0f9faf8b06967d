package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test_app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFinalizer_MovesAndRecords(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "tmp", "item-1.part")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	require.NoError(t, os.WriteFile(src, []byte("decrypted audio"), 0644))
	dst := filepath.Join(dir, "library", "Artist", "Album", "01-01 Song.mp3")

	f := NewFinalizer(db, logger.Discard())
	item := domain.QueueItem{ID: "item", Type: domain.ItemTypeAlbum, Title: "Album", Artist: "Artist", TotalTracks: 1}
	err := f.Finalize(context.Background(), FinalizeRequest{
		SourcePath: src,
		DestPath:   dst,
		Track:      domain.TrackInfo{TrackID: "1", Title: "Song", Artist: "Artist", TrackNumber: 1},
		Item:       item,
		Quality:    "MP3_320",
	})
	require.NoError(t, err)

	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)

	rec, err := db.GetDownload("1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "item", rec.ItemID)
	assert.Equal(t, dst, rec.FilePath)
	assert.Equal(t, "MP3_320", rec.Quality)
	assert.Len(t, rec.FileHash, 64)
}

func TestFinalizer_MissingSource(t *testing.T) {
	f := NewFinalizer(nil, logger.Discard())
	f.moveBackoff = time.Millisecond

	dir := t.TempDir()
	err := f.Finalize(context.Background(), FinalizeRequest{
		SourcePath: filepath.Join(dir, "gone.part"),
		DestPath:   filepath.Join(dir, "out", "song.mp3"),
		Track:      domain.TrackInfo{TrackID: "1"},
	})
	assert.Error(t, err)
}

func TestTagsFor(t *testing.T) {
	track := domain.TrackInfo{Title: "Song", Artist: "Guest", TrackNumber: 4, DiscNumber: 2}

	album := tagsFor(FinalizeRequest{Track: track, Item: domain.QueueItem{Type: domain.ItemTypeAlbum, Title: "LP", Artist: "Band", TotalTracks: 10}})
	assert.Equal(t, "LP", album.Album)
	assert.Equal(t, "Band", album.AlbumArtist)
	assert.Equal(t, 10, album.TotalTracks)
	assert.Equal(t, 2, album.DiscNumber)

	single := tagsFor(FinalizeRequest{Track: track, Item: domain.QueueItem{Type: domain.ItemTypeTrack, Title: "Song"}})
	assert.Empty(t, single.Album)
	assert.Equal(t, "Guest", single.Artist)
}
