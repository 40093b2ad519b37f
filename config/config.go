package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port    string `mapstructure:"PORT"`
	BaseURL string `mapstructure:"BASE"`

	// Storage layout. DataDir holds the durable tables, UploadDir holds
	// chunks, assembled originals and derived artifacts.
	DataDir   string `mapstructure:"DATA_DIR"`
	UploadDir string `mapstructure:"UPLOAD_DIR"`

	// Upload policy
	MaxUploadSize     int64         `mapstructure:"MAX_UPLOAD_SIZE"`
	ChunkSize         int64         `mapstructure:"CHUNK_SIZE"`
	AllowedExtensions []string      `mapstructure:"ALLOWED_EXTENSIONS"`
	SessionTTL        time.Duration `mapstructure:"SESSION_TTL"`

	// Worker pool
	MaxConcurrentJobs int           `mapstructure:"MAX_CONCURRENT_JOBS"`
	ShutdownGrace     time.Duration `mapstructure:"SHUTDOWN_GRACE"`

	// Media tools
	FFBin       string        `mapstructure:"FF_BIN"`
	FFProbeBin  string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout   time.Duration `mapstructure:"FF_TIMEOUT"`
	FFExtraArgs string        `mapstructure:"FF_EXTRA_ARGS"`

	// Resource throttling before each job
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	// Processing defaults
	DefaultQuality string   `mapstructure:"DEFAULT_QUALITY"`
	ProducePackage bool     `mapstructure:"PRODUCE_PACKAGE"`
	ThumbnailTimes []string `mapstructure:"THUMBNAIL_TIMES"`

	// Optional downstream webhook, fired after a record reaches a
	// terminal processing state. Empty URL disables it.
	WebhookURL     string        `mapstructure:"WEBHOOK_URL"`
	WebhookTimeout time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		// It is a string -> time.Duration. Parse it.
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to int64s for byte sizes.
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("DATA_DIR", "data")
	vp.SetDefault("UPLOAD_DIR", "uploads")
	vp.SetDefault("MAX_UPLOAD_SIZE", "2GB")
	vp.SetDefault("CHUNK_SIZE", "5MB")
	vp.SetDefault("ALLOWED_EXTENSIONS", []string{".mp4", ".avi", ".mov", ".mkv", ".webm", ".flv", ".wmv"})
	vp.SetDefault("SESSION_TTL", "24h")
	vp.SetDefault("MAX_CONCURRENT_JOBS", 2)
	vp.SetDefault("SHUTDOWN_GRACE", "30s")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "15m")
	vp.SetDefault("FF_EXTRA_ARGS", "")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("DEFAULT_QUALITY", "medium")
	vp.SetDefault("PRODUCE_PACKAGE", false)
	vp.SetDefault("THUMBNAIL_TIMES", []string{"00:00:05", "00:01:00", "00:05:00"})
	vp.SetDefault("WEBHOOK_URL", "")
	vp.SetDefault("WEBHOOK_TIMEOUT", "5s")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "json")

	// Load from config file
	vp.SetConfigName("vidserve_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/vidserve/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("VIDSERVE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// Unmarshal the config, providing our custom composed hooks.
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DefaultQuality {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid DEFAULT_QUALITY %q: must be low, medium or high", c.DefaultQuality)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}
	return nil
}

// ExtensionAllowed reports whether the (dot-prefixed, case-insensitive)
// extension is in the allow-list.
func (c *Config) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// Directory layout under UploadDir.

func (c *Config) ChunksDir() string     { return filepath.Join(c.UploadDir, "chunks") }
func (c *Config) VideosDir() string     { return filepath.Join(c.UploadDir, "videos") }
func (c *Config) ThumbnailsDir() string { return filepath.Join(c.UploadDir, "thumbnails") }
func (c *Config) PackagesDir() string   { return filepath.Join(c.UploadDir, "hls") }

// DatabasePath is the sqlite file holding the session and video tables.
func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "vidserve.db") }
