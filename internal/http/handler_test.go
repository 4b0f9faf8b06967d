package httpapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stripedl/internal/app"
	"github.com/cesargomez89/stripedl/internal/catalog"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/downloader"
	"github.com/cesargomez89/stripedl/internal/events"
	"github.com/cesargomez89/stripedl/internal/http/dto"
	"github.com/cesargomez89/stripedl/internal/logger"
	"github.com/cesargomez89/stripedl/internal/queue"
	"github.com/cesargomez89/stripedl/internal/store"
)

type apiFixture struct {
	server *httptest.Server
	svc    *app.QueueService
	db     *store.DB
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.Discard()
	dir := t.TempDir()

	db, err := store.NewSQLiteDB(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(log)
	q := queue.NewManager(queue.NewFileStore(filepath.Join(dir, "queue.json")), bus, log)
	mock := catalog.NewMockProvider()
	mock.AddTrack(domain.CatalogTrack{ID: "3135556", Title: "Harder Better Faster Stronger", Artist: "Daft Punk"})

	// never started: state transitions only
	engine := downloader.NewEngine(q, bus, nil, downloader.EngineConfig{MaxConcurrent: 2}, log)
	svc := app.NewQueueService(q, app.NewItemFactory(mock, log), engine, store.NewSettingsRepo(db), db, log)

	srv := httptest.NewServer(NewRouter(NewHandler(svc, log)))
	t.Cleanup(srv.Close)
	return &apiFixture{server: srv, svc: svc, db: db}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestAPI_EnqueueAndDuplicate(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/queue/album/1", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	item := decode[dto.ItemResponse](t, body)
	assert.Equal(t, "album", item.Type)
	assert.Equal(t, "queued", item.State)
	assert.Equal(t, 2, item.TotalTracks)

	resp, body = f.do(t, http.MethodPost, "/api/queue/album/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, item.ID, decode[dto.ItemResponse](t, body).ID)

	resp, body = f.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[dto.QueueResponse](t, body)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Counts["queued"])
}

func TestAPI_EnqueueErrors(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/queue/artist/1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/queue/album/404", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ItemLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/queue/track/3135556", "")
	id := decode[dto.ItemResponse](t, body).ID

	resp, body := f.do(t, http.MethodGet, "/api/queue/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[dto.ItemResponse](t, body)
	require.Len(t, detail.Tracks, 1)
	assert.Equal(t, "3135556", detail.Tracks[0].TrackID)

	resp, body = f.do(t, http.MethodPost, "/api/queue/"+id+"/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paused", decode[dto.ItemResponse](t, body).State)

	resp, body = f.do(t, http.MethodPost, "/api/queue/"+id+"/resume", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", decode[dto.ItemResponse](t, body).State)

	resp, body = f.do(t, http.MethodPost, "/api/queue/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", decode[dto.ItemResponse](t, body).State)

	resp, _ = f.do(t, http.MethodPost, "/api/queue/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/queue/"+id+"/retry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	retried := decode[dto.ItemResponse](t, body)
	assert.Equal(t, "queued", retried.State)
	assert.Equal(t, 1, retried.RetryCount)

	resp, _ = f.do(t, http.MethodDelete, "/api/queue/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/queue/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Clear(t *testing.T) {
	f := newAPIFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/queue/album/1", "")
	id := decode[dto.ItemResponse](t, body).ID
	_, err := f.svc.Queue.UpdateState(id, domain.WithState(domain.StateFailed))
	require.NoError(t, err)

	resp, _ := f.do(t, http.MethodPost, "/api/queue/clear?state=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/queue/clear?state=completed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[map[string][]string](t, body)["removed"])

	resp, body = f.do(t, http.MethodPost, "/api/queue/clear?state=failed&state=cancelled", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{id}, decode[map[string][]string](t, body)["removed"])
	assert.Zero(t, f.svc.Queue.Len())
}

func TestAPI_RetryFailed(t *testing.T) {
	f := newAPIFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/queue/album/1", "")
	id := decode[dto.ItemResponse](t, body).ID
	_, err := f.svc.Queue.UpdateState(id, domain.WithState(domain.StateFailed))
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/api/queue/retry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[map[string]int](t, body)["retried"])
}

func TestAPI_SetConcurrency(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPut, "/api/engine/concurrency", `{"max_concurrent": 11}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/engine/concurrency", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPut, "/api/engine/concurrency", `{"max_concurrent": 4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, decode[map[string]int](t, body)["max_concurrent"])

	stored, err := store.NewSettingsRepo(f.db).Get(store.SettingMaxConcurrent)
	require.NoError(t, err)
	assert.Equal(t, "4", stored)
}

func TestAPI_Downloads(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.db.CreateDownload(&domain.Download{
		TrackID: "1", ItemID: "item", FilePath: "/music/a.mp3", Quality: "MP3_320", CompletedAt: time.Now(),
	}))

	resp, body := f.do(t, http.MethodGet, "/api/downloads?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]dto.DownloadResponse](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, "/music/a.mp3", list[0].FilePath)

	resp, _ = f.do(t, http.MethodGet, "/api/downloads?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, body)["status"])
}
