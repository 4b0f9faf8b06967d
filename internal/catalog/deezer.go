package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/httpclient"
	"github.com/cesargomez89/stripedl/internal/logger"
)

// media error codes returned by the get_url endpoint
const (
	mediaErrTokenExpired     = 2001
	mediaErrRightsRestricted = 2002
)

// public API error codes
const (
	apiErrQuota  = 4
	apiErrNoData = 800
)

type ClientConfig struct {
	APIURL     string
	GatewayURL string
	MediaURL   string
	ARL        string // session cookie of a logged-in account
}

// Client talks to the provider's public API for metadata and to its private
// gateway and media endpoints for stream URLs.
type Client struct {
	cfg    ClientConfig
	http   *httpclient.Client
	logger *logger.Logger

	mu           sync.RWMutex
	apiToken     string
	licenseToken string
}

func NewClient(cfg ClientConfig, hc *httpclient.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	if hc == nil {
		hc = httpclient.NewClient(httpclient.Options{})
	}
	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: log.WithComponent("catalog"),
	}
}

func (c *Client) RefreshSession(ctx context.Context) error {
	if c.cfg.ARL == "" {
		return newError("refresh session", "", ErrSessionInvalid)
	}

	results, err := c.gateway(ctx, "deezer.getUserData", "", nil)
	if err != nil {
		return err
	}

	if results.Get("USER.USER_ID").Int() == 0 {
		return newError("refresh session", "", ErrSessionInvalid)
	}
	apiToken := results.Get("checkForm").String()
	licenseToken := results.Get("USER.OPTIONS.license_token").String()
	if apiToken == "" || licenseToken == "" {
		return newError("refresh session", "", ErrSessionInvalid)
	}

	c.mu.Lock()
	c.apiToken = apiToken
	c.licenseToken = licenseToken
	c.mu.Unlock()

	c.logger.Debug("Session refreshed", "user_id", results.Get("USER.USER_ID").Int())
	return nil
}

func (c *Client) tokens() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiToken, c.licenseToken
}

func (c *Client) ResolveTrackURL(ctx context.Context, trackID, quality string) (string, error) {
	apiToken, licenseToken := c.tokens()
	if apiToken == "" || licenseToken == "" {
		return "", newError("resolve url", trackID, ErrSessionInvalid)
	}

	song, err := c.gateway(ctx, "song.getData", apiToken, map[string]string{"sng_id": trackID})
	if err != nil {
		return "", err
	}
	trackToken := song.Get("TRACK_TOKEN").String()
	if trackToken == "" {
		return "", newError("resolve url", trackID, ErrTrackUnavailable)
	}

	payload := map[string]any{
		"license_token": licenseToken,
		"media": []map[string]any{{
			"type":    "FULL",
			"formats": []map[string]string{{"cipher": "BF_CBC_STRIPE", "format": quality}},
		}},
		"track_tokens": []string{trackToken},
	}
	body, err := c.postJSON(ctx, c.cfg.MediaURL, payload)
	if err != nil {
		return "", err
	}

	res := gjson.GetBytes(body, "data.0")
	if mediaErr := res.Get("errors.0"); mediaErr.Exists() {
		code := int(mediaErr.Get("code").Int())
		perr := &ProviderError{Op: "resolve url", ID: trackID, Code: code, Message: mediaErr.Get("message").String()}
		switch code {
		case mediaErrRightsRestricted:
			perr.Err = ErrRightsRestricted
		case mediaErrTokenExpired:
			perr.Err = ErrTokenExpired
		default:
			perr.Err = ErrTrackUnavailable
		}
		return "", perr
	}

	streamURL := res.Get("media.0.sources.0.url").String()
	if streamURL == "" {
		return "", newError("resolve url", trackID, ErrNoStreamURL)
	}
	return streamURL, nil
}

func (c *Client) GetTrack(ctx context.Context, id string) (*domain.CatalogTrack, error) {
	res, err := c.api(ctx, "track/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	track := parseTrack(res)
	return &track, nil
}

func (c *Client) GetAlbum(ctx context.Context, id string) (*domain.Album, error) {
	res, err := c.api(ctx, "album/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	album := &domain.Album{
		ID:          res.Get("id").String(),
		Title:       res.Get("title").String(),
		Artist:      res.Get("artist.name").String(),
		AlbumArtURL: res.Get("cover_xl").String(),
		ReleaseDate: res.Get("release_date").String(),
		Label:       res.Get("label").String(),
		TotalTracks: int(res.Get("nb_tracks").Int()),
	}
	album.Tracks = parseTracks(res.Get("tracks.data"), album)
	return album, nil
}

func (c *Client) ListAlbumTracks(ctx context.Context, albumID string, limit, offset int) ([]domain.CatalogTrack, error) {
	res, err := c.api(ctx, "album/"+url.PathEscape(albumID)+"/tracks", pageQuery(limit, offset))
	if err != nil {
		return nil, err
	}
	return parseTracks(res.Get("data"), nil), nil
}

func (c *Client) GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	res, err := c.api(ctx, "playlist/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &domain.Playlist{
		ID:          res.Get("id").String(),
		Title:       res.Get("title").String(),
		Creator:     res.Get("creator.name").String(),
		ImageURL:    res.Get("picture_xl").String(),
		TotalTracks: int(res.Get("nb_tracks").Int()),
		Tracks:      parseTracks(res.Get("tracks.data"), nil),
	}, nil
}

func (c *Client) ListPlaylistTracks(ctx context.Context, playlistID string, limit, offset int) ([]domain.CatalogTrack, error) {
	res, err := c.api(ctx, "playlist/"+url.PathEscape(playlistID)+"/tracks", pageQuery(limit, offset))
	if err != nil {
		return nil, err
	}
	return parseTracks(res.Get("data"), nil), nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("index", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

func parseTracks(list gjson.Result, album *domain.Album) []domain.CatalogTrack {
	var tracks []domain.CatalogTrack
	list.ForEach(func(_, value gjson.Result) bool {
		t := parseTrack(value)
		if album != nil {
			t.Album = album.Title
			t.AlbumID = album.ID
		}
		tracks = append(tracks, t)
		return true
	})
	return tracks
}

func parseTrack(res gjson.Result) domain.CatalogTrack {
	readable := res.Get("readable")
	return domain.CatalogTrack{
		ID:          res.Get("id").String(),
		Title:       res.Get("title").String(),
		Artist:      res.Get("artist.name").String(),
		Album:       res.Get("album.title").String(),
		AlbumID:     res.Get("album.id").String(),
		Duration:    int(res.Get("duration").Int()),
		TrackNumber: int(res.Get("track_position").Int()),
		DiscNumber:  int(res.Get("disk_number").Int()),
		Readable:    !readable.Exists() || readable.Bool(),
	}
}

// api performs a GET on the public API and maps its error envelope.
func (c *Client) api(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	u := strings.TrimRight(c.cfg.APIURL, "/") + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("catalog request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("catalog read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return gjson.Result{}, newError(path, "", ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("catalog %s: unexpected status %s", path, resp.Status)
	}

	res := gjson.ParseBytes(body)
	if apiErr := res.Get("error"); apiErr.Exists() && apiErr.IsObject() {
		code := int(apiErr.Get("code").Int())
		perr := &ProviderError{Op: path, Code: code, Message: apiErr.Get("message").String(), Err: ErrNotFound}
		if code == apiErrQuota {
			perr.Err = ErrRateLimited
		} else if code != apiErrNoData {
			perr.Err = fmt.Errorf("catalog api error %d", code)
		}
		return gjson.Result{}, perr
	}
	return res, nil
}

// gateway calls a private gateway method and returns its "results" member.
func (c *Client) gateway(ctx context.Context, method, apiToken string, payload any) (gjson.Result, error) {
	q := url.Values{}
	q.Set("method", method)
	q.Set("input", "3")
	q.Set("api_version", "1.0")
	q.Set("api_token", apiToken)

	if payload == nil {
		payload = map[string]string{}
	}
	body, err := c.postJSON(ctx, c.cfg.GatewayURL+"?"+q.Encode(), payload)
	if err != nil {
		return gjson.Result{}, err
	}

	res := gjson.ParseBytes(body)
	if gwErr := res.Get("error"); gwErr.Exists() && len(gwErr.Map()) > 0 {
		if gwErr.Get("VALID_TOKEN_REQUIRED").Exists() || gwErr.Get("GATEWAY_ERROR").Exists() {
			return gjson.Result{}, newError(method, "", ErrTokenExpired)
		}
		return gjson.Result{}, &ProviderError{Op: method, Err: ErrTrackUnavailable, Message: gwErr.Raw}
	}
	return res.Get("results"), nil
}

func (c *Client) postJSON(ctx context.Context, target string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ARL != "" {
		req.AddCookie(&http.Cookie{Name: "arl", Value: c.cfg.ARL})
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, target)
	}
	return body, nil
}
