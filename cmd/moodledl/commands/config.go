package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"moodledl/internal/components/configutil"
	"moodledl/internal/components/telemetry"
	"moodledl/internal/scrapers/moodle"

	"dario.cat/mergo"
)

type Config struct {
	// BaseUrl is the root of the moodle site, it defaults to the scheme and
	// host of the first course url.
	BaseUrl  string   `json:"base_url"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Courses  []string `json:"courses"`

	OutputDir    string `json:"output_dir"`
	Workers      int    `json:"workers"`
	KeepArchives bool   `json:"keep_archives"`

	RequestsPerSecond      float64 `json:"requests_per_second"`
	RequestTimeoutSeconds  int     `json:"request_timeout_seconds"`
	DownloadTimeoutSeconds int     `json:"download_timeout_seconds"`

	// HistoryDb is a sqlite database that every run is recorded to, relative
	// paths are resolved against OutputDir. Empty disables the history.
	HistoryDb   string               `json:"history_db"`
	DumpHttpDir string               `json:"dump_http_dir"`
	Otlp        telemetry.OtlpConfig `json:"otlp"`
}

var defaultConfig = Config{
	OutputDir:             ".",
	Workers:               1,
	RequestsPerSecond:     2,
	RequestTimeoutSeconds: 30,
	HistoryDb:             ".moodledl.db",
}

// fallbackConfig holds the settings that have no meaningful zero value, they
// are filled in even when a config file sets them to zero.
var fallbackConfig = Config{
	OutputDir: ".",
	Workers:   1,
}

// loadConfig reads the config at path on top of defaultConfig, a missing
// config file is not an error.
func loadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfigOver(path, defaultConfig)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	err = mergo.Merge(&cfg, fallbackConfig)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) historyPath() string {
	if c.HistoryDb == "" || c.HistoryDb == ":memory:" || filepath.IsAbs(c.HistoryDb) {
		return c.HistoryDb
	}
	return filepath.Join(c.OutputDir, c.HistoryDb)
}

func (c Config) clientOptions(tel telemetry.API, output telemetry.MessageOutput) (moodle.ClientOptions, error) {
	baseUrl := c.BaseUrl
	if baseUrl == "" {
		if len(c.Courses) == 0 {
			return moodle.ClientOptions{}, fmt.Errorf("no base url and no courses to derive it from")
		}
		derived, err := siteRoot(c.Courses[0])
		if err != nil {
			return moodle.ClientOptions{}, err
		}
		baseUrl = derived
	}

	return moodle.ClientOptions{
		BaseUrl:           baseUrl,
		RequestsPerSecond: c.RequestsPerSecond,
		RequestTimeout:    time.Duration(c.RequestTimeoutSeconds) * time.Second,
		DownloadTimeout:   time.Duration(c.DownloadTimeoutSeconds) * time.Second,
		MessageOutput:     output,
		Telemetry:         tel,
	}, nil
}

// siteRoot returns the scheme and host of a course url.
func siteRoot(courseUrl string) (string, error) {
	link, err := url.Parse(courseUrl)
	if err != nil || !link.IsAbs() || link.Host == "" {
		return "", fmt.Errorf("%w: %q", moodle.ErrInvalidUrl, courseUrl)
	}
	return (&url.URL{Scheme: link.Scheme, Host: link.Host}).String(), nil
}
