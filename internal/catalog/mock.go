package catalog

import (
	"context"
	"sync"

	"github.com/cesargomez89/stripedl/internal/domain"
)

// MockProvider is an in-memory provider for tests and offline runs.
// GetAlbum and GetPlaylist embed at most EmbeddedTracks tracks so callers
// have to paginate, like the real API.
type MockProvider struct {
	albums    map[string]*domain.Album
	playlists map[string]*domain.Playlist
	tracks    map[string]domain.CatalogTrack
	urls      map[string]string
	urlErrs   map[string]error

	RefreshErr     error
	EmbeddedTracks int

	refreshCalls int
	resolveCalls map[string]int
	mu           sync.Mutex
}

func NewMockProvider() *MockProvider {
	p := &MockProvider{
		albums:         make(map[string]*domain.Album),
		playlists:      make(map[string]*domain.Playlist),
		tracks:         make(map[string]domain.CatalogTrack),
		urls:           make(map[string]string),
		urlErrs:        make(map[string]error),
		resolveCalls:   make(map[string]int),
		EmbeddedTracks: 25,
	}
	p.AddAlbum(&domain.Album{
		ID:     "1",
		Title:  "Mock Album",
		Artist: "Mock Artist",
		Tracks: []domain.CatalogTrack{
			{ID: "1", Title: "Track 1", Artist: "Mock Artist", TrackNumber: 1, Duration: 180},
			{ID: "2", Title: "Track 2", Artist: "Mock Artist", TrackNumber: 2, Duration: 200},
		},
	})
	return p
}

// AddAlbum registers an album with its full track list.
func (p *MockProvider) AddAlbum(album *domain.Album) {
	p.mu.Lock()
	defer p.mu.Unlock()
	album.TotalTracks = len(album.Tracks)
	for i := range album.Tracks {
		album.Tracks[i].Album = album.Title
		album.Tracks[i].AlbumID = album.ID
		p.tracks[album.Tracks[i].ID] = album.Tracks[i]
	}
	p.albums[album.ID] = album
}

func (p *MockProvider) AddPlaylist(pl *domain.Playlist) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl.TotalTracks = len(pl.Tracks)
	for _, t := range pl.Tracks {
		p.tracks[t.ID] = t
	}
	p.playlists[pl.ID] = pl
}

func (p *MockProvider) AddTrack(track domain.CatalogTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks[track.ID] = track
}

func (p *MockProvider) SetStreamURL(trackID, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls[trackID] = url
}

func (p *MockProvider) FailTrack(trackID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urlErrs[trackID] = err
}

func (p *MockProvider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *MockProvider) ResolveCalls(trackID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveCalls[trackID]
}

func (p *MockProvider) RefreshSession(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	return p.RefreshErr
}

func (p *MockProvider) ResolveTrackURL(ctx context.Context, trackID, quality string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveCalls[trackID]++
	if err, ok := p.urlErrs[trackID]; ok {
		return "", newError("resolve url", trackID, err)
	}
	if u, ok := p.urls[trackID]; ok {
		return u, nil
	}
	return "", newError("resolve url", trackID, ErrNoStreamURL)
}

func (p *MockProvider) GetTrack(ctx context.Context, id string) (*domain.CatalogTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracks[id]
	if !ok {
		return nil, newError("track", id, ErrNotFound)
	}
	return &t, nil
}

func (p *MockProvider) GetAlbum(ctx context.Context, id string) (*domain.Album, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.albums[id]
	if !ok {
		return nil, newError("album", id, ErrNotFound)
	}
	out := *a
	out.Tracks = page(a.Tracks, p.EmbeddedTracks, 0)
	return &out, nil
}

func (p *MockProvider) ListAlbumTracks(ctx context.Context, albumID string, limit, offset int) ([]domain.CatalogTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.albums[albumID]
	if !ok {
		return nil, newError("album tracks", albumID, ErrNotFound)
	}
	return page(a.Tracks, limit, offset), nil
}

func (p *MockProvider) GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.playlists[id]
	if !ok {
		return nil, newError("playlist", id, ErrNotFound)
	}
	out := *pl
	out.Tracks = page(pl.Tracks, p.EmbeddedTracks, 0)
	return &out, nil
}

func (p *MockProvider) ListPlaylistTracks(ctx context.Context, playlistID string, limit, offset int) ([]domain.CatalogTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.playlists[playlistID]
	if !ok {
		return nil, newError("playlist tracks", playlistID, ErrNotFound)
	}
	return page(pl.Tracks, limit, offset), nil
}

func page(tracks []domain.CatalogTrack, limit, offset int) []domain.CatalogTrack {
	if offset >= len(tracks) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(tracks))
	return append([]domain.CatalogTrack(nil), tracks[offset:end]...)
}
