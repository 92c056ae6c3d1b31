// Package config builds the single, read-only configuration of a run.
//
// Sources, lowest precedence first: built-in defaults, the YAML file,
// a local .env file (never overriding the real environment), environment
// variables, and finally the OS keyring for the VK token when nothing else
// supplied one.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mikequentel/comicpost/internal/download"
	"github.com/mikequentel/comicpost/internal/vk"
	"github.com/mikequentel/comicpost/internal/xkcd"
)

// Publish targets.
const (
	TargetWall  = "wall"
	TargetAlbum = "album"
)

// DefaultGroupID is the community the bot was first written for.
const DefaultGroupID int64 = 166256394

const DefaultConfigFile = "comicpost.yaml"

// Env var names.
const (
	EnvConfig           = "COMICPOST_CONFIG"
	EnvAccessToken      = "VK_APP_ACCESS_TOKEN"
	EnvClientID         = "VK_CLIENT_ID"
	EnvGroupID          = "VK_GROUP_ID"
	EnvAlbumID          = "VK_ALBUM_ID"
	EnvAPIVersion       = "VK_API_VERSION"
	EnvTarget           = "COMICPOST_TARGET"
	EnvImagesDir        = "COMICPOST_IMAGES_DIR"
	EnvOverwrite        = "COMICPOST_OVERWRITE"
	EnvCleanupOnFailure = "COMICPOST_CLEANUP_ON_FAILURE"
	EnvHistoryDB        = "COMICPOST_HISTORY_DB"
	EnvHTTPTimeout      = "COMICPOST_HTTP_TIMEOUT"
	EnvLogLevel         = "COMICPOST_LOG_LEVEL"
	EnvLogFormat        = "COMICPOST_LOG_FORMAT"
	EnvLogFile          = "COMICPOST_LOG_FILE"
	EnvDryRun           = "DRY_RUN"
	EnvXConsumerKey     = "X_CONSUMER_KEY"
	EnvXConsumerSecret  = "X_CONSUMER_SECRET"
	EnvXAccessToken     = "X_ACCESS_TOKEN"
	EnvXAccessSecret    = "X_ACCESS_SECRET"
)

type VKConfig struct {
	AccessToken string `yaml:"-"` // env or keyring only
	ClientID    string `yaml:"client_id"`
	GroupID     int64  `yaml:"group_id"`
	AlbumID     int64  `yaml:"album_id"`
	APIVersion  string `yaml:"api_version"`
	BaseURL     string `yaml:"base_url"`
	Target      string `yaml:"target"`
}

type ComicConfig struct {
	BaseURL  string `yaml:"base_url"`
	MaxDraws int    `yaml:"max_draws"`
}

type ImagesConfig struct {
	Dir              string `yaml:"dir"`
	ChunkSize        int    `yaml:"chunk_size"`
	Overwrite        *bool  `yaml:"overwrite"`
	CleanupOnFailure bool   `yaml:"cleanup_on_failure"`
}

// ShouldOverwrite defaults to true when unset.
func (i ImagesConfig) ShouldOverwrite() bool {
	return i.Overwrite == nil || *i.Overwrite
}

type XConfig struct {
	ConsumerKey    string `yaml:"-"`
	ConsumerSecret string `yaml:"-"`
	AccessToken    string `yaml:"-"`
	AccessSecret   string `yaml:"-"`
}

// Enabled reports whether all four X credentials are present.
func (x XConfig) Enabled() bool {
	return x.ConsumerKey != "" && x.ConsumerSecret != "" && x.AccessToken != "" && x.AccessSecret != ""
}

type HistoryConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	VK      VKConfig      `yaml:"vk"`
	Comic   ComicConfig   `yaml:"comic"`
	Images  ImagesConfig  `yaml:"images"`
	X       XConfig       `yaml:"-"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
	HTTP    HTTPConfig    `yaml:"http"`
	DryRun  bool          `yaml:"dry_run"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		VK: VKConfig{
			GroupID:    DefaultGroupID,
			APIVersion: vk.DefaultAPIVersion,
			BaseURL:    vk.DefaultBaseURL,
			Target:     TargetWall,
		},
		Comic: ComicConfig{
			BaseURL:  xkcd.DefaultBaseURL,
			MaxDraws: xkcd.DefaultMaxDraws,
		},
		Images: ImagesConfig{
			Dir:       "images",
			ChunkSize: download.DefaultChunkSize,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Timeout: 30 * time.Second},
	}
}

// Load assembles the configuration. An explicit path must exist; without one
// COMICPOST_CONFIG and then ./comicpost.yaml are tried.
func Load(path string) (Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFile(&cfg, path, explicit); err != nil {
		return cfg, err
	}

	if err := loadDotenv(".env"); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if cfg.VK.AccessToken == "" {
		// no keyring on headless boxes; env stays the only source
		tok, _ := Tokens.Get()
		cfg.VK.AccessToken = tok
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadDotenv reads name into the environment without clobbering variables
// that are already set.
func loadDotenv(name string) error {
	if _, err := os.Stat(name); err != nil {
		return nil
	}
	if err := godotenv.Load(name); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.VK.AccessToken, EnvAccessToken)
	setString(&cfg.VK.ClientID, EnvClientID)
	setString(&cfg.VK.APIVersion, EnvAPIVersion)
	setString(&cfg.VK.Target, EnvTarget)
	setString(&cfg.Images.Dir, EnvImagesDir)
	setString(&cfg.History.Path, EnvHistoryDB)
	setString(&cfg.Logging.Level, EnvLogLevel)
	setString(&cfg.Logging.Format, EnvLogFormat)
	setString(&cfg.Logging.File, EnvLogFile)
	setString(&cfg.X.ConsumerKey, EnvXConsumerKey)
	setString(&cfg.X.ConsumerSecret, EnvXConsumerSecret)
	setString(&cfg.X.AccessToken, EnvXAccessToken)
	setString(&cfg.X.AccessSecret, EnvXAccessSecret)

	if err := setInt64(&cfg.VK.GroupID, EnvGroupID); err != nil {
		return err
	}
	if err := setInt64(&cfg.VK.AlbumID, EnvAlbumID); err != nil {
		return err
	}
	if v, ok := lookup(EnvOverwrite); ok {
		b := parseBool(v)
		cfg.Images.Overwrite = &b
	}
	if v, ok := lookup(EnvCleanupOnFailure); ok {
		cfg.Images.CleanupOnFailure = parseBool(v)
	}
	if v, ok := lookup(EnvDryRun); ok {
		cfg.DryRun = parseBool(v)
	}
	if v, ok := lookup(EnvHTTPTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPTimeout, err)
		}
		cfg.HTTP.Timeout = d
	}
	return nil
}

// Validate checks what a posting run needs. Dry runs skip credential checks.
func (c Config) Validate() error {
	var errs []error
	switch c.VK.Target {
	case TargetWall:
	case TargetAlbum:
		if c.VK.AlbumID <= 0 {
			errs = append(errs, fmt.Errorf("album target needs a positive album id (%s)", EnvAlbumID))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown target %q (want %q or %q)", c.VK.Target, TargetWall, TargetAlbum))
	}
	if c.Images.Dir == "" {
		errs = append(errs, errors.New("images dir must not be empty"))
	}
	if !c.DryRun {
		if c.VK.AccessToken == "" {
			errs = append(errs, c.VK.MissingTokenError())
		}
		if c.VK.GroupID <= 0 {
			errs = append(errs, fmt.Errorf("group id must be positive (%s)", EnvGroupID))
		}
	}
	return errors.Join(errs...)
}

// VKAuthorizeURL is where an admin grants a standalone app a user token.
const VKAuthorizeURL = "https://oauth.vk.com/authorize"

// TokenURL returns the implicit-flow page that issues a token for the
// configured app, or "" when no client id is set.
func (v VKConfig) TokenURL() string {
	if v.ClientID == "" {
		return ""
	}
	version := v.APIVersion
	if version == "" {
		version = vk.DefaultAPIVersion
	}
	q := url.Values{
		"client_id":     {v.ClientID},
		"display":       {"page"},
		"redirect_uri":  {"https://oauth.vk.com/blank.html"},
		"scope":         {"photos,wall,groups,offline"},
		"response_type": {"token"},
		"v":             {version},
	}
	return VKAuthorizeURL + "?" + q.Encode()
}

// MissingTokenError tells the operator how to supply a token.
func (v VKConfig) MissingTokenError() error {
	msg := fmt.Sprintf("missing VK access token: set %s or run `comicpost token set`", EnvAccessToken)
	if u := v.TokenURL(); u != "" {
		msg += "; get one at " + u
	}
	return errors.New(msg)
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt64(dst *int64, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
