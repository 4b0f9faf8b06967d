package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/viper"

	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/decrypt"
)

// Config holds all application configuration
type Config struct {
	Port           string
	SnapshotPath   string
	DBPath         string
	DownloadsDir   string
	TempDir        string
	Quality        string
	MaxConcurrent  int
	ParallelTracks int
	TrackStagger   time.Duration
	PollInterval   time.Duration
	StopTimeout    time.Duration
	RequestTimeout time.Duration
	APIURL         string
	GatewayURL     string
	MediaURL       string
	ARL            string
	Secret         string
	SubdirTemplate string
	CacheTTL       time.Duration
	LogLevel       string
	LogFormat      string
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	home, _ := os.UserHomeDir()

	v := viper.New()
	v.SetDefault("PORT", constants.DefaultPort)
	v.SetDefault("SNAPSHOT_PATH", constants.DefaultSnapshotPath)
	v.SetDefault("DB_PATH", constants.DefaultDBPath)
	v.SetDefault("DOWNLOADS_DIR", filepath.Join(home, "Downloads", "stripedl"))
	v.SetDefault("TEMP_DIR", filepath.Join(os.TempDir(), "stripedl"))
	v.SetDefault("QUALITY", constants.DefaultQuality)
	v.SetDefault("MAX_CONCURRENT", constants.DefaultConcurrency)
	v.SetDefault("PARALLEL_TRACKS", constants.DefaultParallelTracks)
	v.SetDefault("TRACK_STAGGER", constants.DefaultTrackStagger)
	v.SetDefault("POLL_INTERVAL", constants.DefaultPollInterval)
	v.SetDefault("STOP_TIMEOUT", constants.DefaultStopTimeout)
	v.SetDefault("REQUEST_TIMEOUT", constants.DefaultRequestTimeout)
	v.SetDefault("API_URL", constants.DefaultAPIURL)
	v.SetDefault("GATEWAY_URL", constants.DefaultGatewayURL)
	v.SetDefault("MEDIA_URL", constants.DefaultMediaURL)
	v.SetDefault("ARL", "")
	v.SetDefault("BLOWFISH_SECRET", "")
	v.SetDefault("SUBDIR_TEMPLATE", constants.DefaultSubdirTemplate)
	v.SetDefault("CACHE_TTL", constants.DefaultCacheTTL)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("PORT"),
		SnapshotPath:   v.GetString("SNAPSHOT_PATH"),
		DBPath:         v.GetString("DB_PATH"),
		DownloadsDir:   v.GetString("DOWNLOADS_DIR"),
		TempDir:        v.GetString("TEMP_DIR"),
		Quality:        strings.ToUpper(v.GetString("QUALITY")),
		MaxConcurrent:  clamp(v.GetInt("MAX_CONCURRENT")),
		ParallelTracks: v.GetInt("PARALLEL_TRACKS"),
		TrackStagger:   v.GetDuration("TRACK_STAGGER"),
		PollInterval:   v.GetDuration("POLL_INTERVAL"),
		StopTimeout:    v.GetDuration("STOP_TIMEOUT"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		APIURL:         v.GetString("API_URL"),
		GatewayURL:     v.GetString("GATEWAY_URL"),
		MediaURL:       v.GetString("MEDIA_URL"),
		ARL:            v.GetString("ARL"),
		Secret:         v.GetString("BLOWFISH_SECRET"),
		SubdirTemplate: v.GetString("SUBDIR_TEMPLATE"),
		CacheTTL:       v.GetDuration("CACHE_TTL"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:      strings.ToLower(v.GetString("LOG_FORMAT")),
	}
	return cfg, nil
}

func clamp(n int) int {
	return max(constants.MinConcurrency, min(constants.MaxConcurrency, n))
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
	}

	for key, value := range map[string]string{
		"SNAPSHOT_PATH": c.SnapshotPath,
		"DB_PATH":       c.DBPath,
		"DOWNLOADS_DIR": c.DownloadsDir,
		"TEMP_DIR":      c.TempDir,
	} {
		if value == "" {
			problems = append(problems, key+" cannot be empty")
		}
	}

	for key, value := range map[string]string{
		"API_URL":     c.APIURL,
		"GATEWAY_URL": c.GatewayURL,
		"MEDIA_URL":   c.MediaURL,
	} {
		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s is not a valid URL: %s", key, value))
		}
	}

	switch c.Quality {
	case constants.QualityMP3Low, constants.QualityMP3High, constants.QualityFLAC:
	default:
		problems = append(problems, fmt.Sprintf("QUALITY must be one of: MP3_128, MP3_320, FLAC, got: %s", c.Quality))
	}

	if c.ParallelTracks < 1 {
		problems = append(problems, fmt.Sprintf("PARALLEL_TRACKS must be at least 1, got: %d", c.ParallelTracks))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "POLL_INTERVAL must be positive")
	}
	if c.StopTimeout <= 0 {
		problems = append(problems, "STOP_TIMEOUT must be positive")
	}
	if c.TrackStagger < 0 {
		problems = append(problems, "TRACK_STAGGER cannot be negative")
	}

	if len(c.Secret) != decrypt.SecretSize {
		problems = append(problems, fmt.Sprintf("BLOWFISH_SECRET must be %d bytes, got: %d", decrypt.SecretSize, len(c.Secret)))
	}

	if _, err := template.New("subdir").Parse(c.SubdirTemplate); err != nil {
		problems = append(problems, fmt.Sprintf("SUBDIR_TEMPLATE is invalid: %v", err))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(problems) > 0 {
		return errors.New("configuration validation failed:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}
