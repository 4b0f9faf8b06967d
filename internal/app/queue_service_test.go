package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stripedl/internal/catalog"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/events"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
	"github.com/cesargomez89/stripedl/internal/store"
)

type fakeEngine struct {
	limit     int
	cancelled []string
}

func (e *fakeEngine) CancelDownload(id string) error {
	e.cancelled = append(e.cancelled, id)
	return nil
}
func (e *fakeEngine) PauseDownload(id string) error  { return nil }
func (e *fakeEngine) ResumeDownload(id string) error { return nil }
func (e *fakeEngine) UpdateConcurrentLimit(n int) int {
	e.limit = max(1, min(10, n))
	return e.limit
}
func (e *fakeEngine) MaxConcurrent() int { return e.limit }

func newTestService(t *testing.T) (*QueueService, *catalog.MockProvider, *fakeEngine, *store.DB) {
	t.Helper()
	log := logger.Discard()
	db := setupTestDB(t)
	mock := catalog.NewMockProvider()
	q := queue.NewManager(queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json")), events.NewBus(log), log)
	engine := &fakeEngine{limit: 2}
	svc := NewQueueService(q, NewItemFactory(mock, log), engine, store.NewSettingsRepo(db), db, log)
	return svc, mock, engine, db
}

func TestQueueService_EnqueueDedup(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	item, created, err := svc.Enqueue(ctx, domain.ItemTypeAlbum, "1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, item.TotalTracks)

	again, created, err := svc.Enqueue(ctx, domain.ItemTypeAlbum, "1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, item.ID, again.ID)
	assert.Len(t, svc.List(), 1)
}

func TestQueueService_EnqueueUnknown(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, _, err := svc.Enqueue(context.Background(), domain.ItemTypeTrack, "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, svc.List())
}

func TestQueueService_ClearDefaultsToFinished(t *testing.T) {
	svc, mock, _, _ := newTestService(t)
	ctx := context.Background()
	mock.AddTrack(domain.CatalogTrack{ID: "10", Title: "A"})
	mock.AddTrack(domain.CatalogTrack{ID: "11", Title: "B"})

	done, _, err := svc.Enqueue(ctx, domain.ItemTypeTrack, "10")
	require.NoError(t, err)
	pending, _, err := svc.Enqueue(ctx, domain.ItemTypeTrack, "11")
	require.NoError(t, err)
	_, err = svc.Queue.UpdateState(done.ID, domain.WithState(domain.StateCompleted))
	require.NoError(t, err)

	removed := svc.Clear()
	assert.Equal(t, []string{done.ID}, removed)

	_, err = svc.Get(pending.ID)
	assert.NoError(t, err)
	_, err = svc.Get(done.ID)
	assert.ErrorIs(t, err, queue.ErrItemNotFound)
}

func TestQueueService_SetConcurrencyPersists(t *testing.T) {
	svc, _, engine, db := newTestService(t)

	applied := svc.SetConcurrency(25)
	assert.Equal(t, 10, applied)
	assert.Equal(t, 10, engine.limit)

	value, err := store.NewSettingsRepo(db).Get(store.SettingMaxConcurrent)
	require.NoError(t, err)
	assert.Equal(t, "10", value)
}

func TestQueueService_RetryRequiresFinished(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	item, _, err := svc.Enqueue(context.Background(), domain.ItemTypeAlbum, "1")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Retry(item.ID), queue.ErrInvalidState)

	_, err = svc.Queue.UpdateState(item.ID, domain.WithState(domain.StateFailed))
	require.NoError(t, err)
	require.NoError(t, svc.Retry(item.ID))

	entry, err := svc.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, entry.State.State)
	assert.Equal(t, 1, entry.State.RetryCount)
}

func TestQueueService_NilLoggerFallsBack(t *testing.T) {
	db := setupTestDB(t)
	q := queue.NewManager(queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json")), nil, nil)

	factory := NewItemFactory(catalog.NewMockProvider(), nil)
	fin := NewFinalizer(db, nil)
	svc := NewQueueService(q, factory, &fakeEngine{limit: 2}, nil, db, nil)
	require.NotNil(t, factory.Logger)
	require.NotNil(t, fin.Logger)
	require.NotNil(t, svc.Logger)

	_, created, err := svc.Enqueue(context.Background(), domain.ItemTypeAlbum, "1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, svc.SetConcurrency(3))
}
