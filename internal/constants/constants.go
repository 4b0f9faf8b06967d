// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort           = "8080"
	DefaultDBPath         = "stripedl.db"
	DefaultSnapshotPath   = "queue.json"
	DefaultQuality        = QualityMP3High
	DefaultAPIURL         = "https://api.deezer.com"
	DefaultGatewayURL     = "https://www.deezer.com/ajax/gw-light.php"
	DefaultMediaURL       = "https://media.deezer.com/v1/get_url"
	DefaultConcurrency    = 2
	DefaultParallelTracks = 3
	DefaultTrackStagger   = 250 * time.Millisecond
	DefaultPollInterval   = 2 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultFillDebounce   = 150 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
	DefaultHTTPTimeout    = 15 * time.Second
	DefaultRetryCount     = 3
	DefaultRetryWaitMin   = 200 * time.Millisecond
	DefaultRetryWaitMax   = 2 * time.Second
	DefaultAPIInterval    = 100 * time.Millisecond
	DefaultSubdirTemplate = "{{.Artist}}/{{.Collection}}/{{.Disc}}-{{.Track}} {{.Title}}"
	DefaultCacheTTL       = 12 * time.Hour
	DefaultPageSize       = 100
)

// Engine pool bounds
const (
	MinConcurrency = 1
	MaxConcurrency = 10
)

// Finalize retries on file lock contention
const (
	MoveRetryCount = 5
	MoveRetryBase  = 100 * time.Millisecond
)

// Quality levels, named after the provider's media formats
const (
	QualityMP3Low  = "MP3_128"
	QualityMP3High = "MP3_320"
	QualityFLAC    = "FLAC"
)

// ExtForQuality returns the file extension produced by a quality level.
func ExtForQuality(quality string) string {
	if quality == QualityFLAC {
		return ExtFLAC
	}
	return ExtMP3
}

// Database
const (
	DownloadsTable = "downloads"
	CacheTable     = "cache"
)

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtPart = ".part"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Streaming
const (
	StreamChunkSize = 32 * 1024
	MaxHistoryItems = 50
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
