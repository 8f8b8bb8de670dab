// Package config provides configuration management for lidarcap using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/lidarcap/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultMinFreeSpaceBytes  = 512 * 1024 * 1024 // 512MiB
	defaultTargetFPS          = 30
	defaultPoolCapacity       = 120
	defaultGoodWindowRadius   = 5
	defaultFrameQueueDepth    = 8
	defaultRecorderQueueDepth = 256
	defaultFragmentDuration   = time.Second
	defaultCompressionLevel   = 6
	defaultPreviewFPS         = 10
	defaultPreviewScale       = 0.3
	defaultPreviewQuality     = 35
	defaultPreviewSubscribers = 4
	defaultPreviewDepthStride = 8
	defaultRotationDegrees    = 90
	defaultThumbnailQuality   = 80
	defaultRetentionMaxAge    = 30 * 24 * time.Hour
	defaultSensorWidth        = 640
	defaultSensorHeight       = 480
	defaultSensorDepthWidth   = 256
	defaultSensorDepthHeight  = 192
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Device      DeviceConfig      `mapstructure:"device"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Encoder     EncoderConfig     `mapstructure:"encoder"`
	Compression CompressionConfig `mapstructure:"compression"`
	Preview     PreviewConfig     `mapstructure:"preview"`
	Merge       MergeConfig       `mapstructure:"merge"`
	Thumbnail   ThumbnailConfig   `mapstructure:"thumbnail"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Sensor      SensorConfig      `mapstructure:"sensor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds the recording catalog connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	RecordingsDir string `mapstructure:"recordings_dir"`
	// MinFreeSpace is the free space required on the recordings volume
	// before a session may start. Supports values like "512MiB" or "2GB".
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RedactFields lists attribute keys whose values are masked in log output.
	RedactFields []string `mapstructure:"redact_fields"`
}

// DeviceConfig identifies the capturing device in recording manifests.
// Empty values are resolved from the host at startup.
type DeviceConfig struct {
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"`
	Name string `mapstructure:"name"`
}

// CaptureConfig holds recording session configuration.
type CaptureConfig struct {
	TargetFPS          int  `mapstructure:"target_fps"`
	PoolCapacity       int  `mapstructure:"pool_capacity"`
	GoodWindowRadius   int  `mapstructure:"good_window_radius"`
	FrameQueueDepth    int  `mapstructure:"frame_queue_depth"`
	RecorderQueueDepth int  `mapstructure:"recorder_queue_depth"`
	AuxCapture         bool `mapstructure:"aux_capture"`      // record the audio-bearing auxiliary video
	FullVideoAudio     bool `mapstructure:"full_video_audio"` // also mux microphone audio into the full video
	AutoLidar          bool `mapstructure:"auto_lidar"`       // start curated capture together with the session
}

// EncoderConfig holds H.264 encoder configuration.
type EncoderConfig struct {
	Kind             string        `mapstructure:"kind"`        // ffmpeg, null
	BinaryPath       string        `mapstructure:"binary_path"` // empty = auto-detect
	Codec            string        `mapstructure:"codec"`
	Preset           string        `mapstructure:"preset"`
	Bitrate          string        `mapstructure:"bitrate"`
	GOP              int           `mapstructure:"gop"`
	QueueDepth       int           `mapstructure:"queue_depth"`
	FragmentDuration time.Duration `mapstructure:"fragment_duration"`
}

// CompressionConfig holds block compression settings for depth and confidence streams.
type CompressionConfig struct {
	Codec string `mapstructure:"codec"` // zlib, xz, brotli, bzip2
	Level int    `mapstructure:"level"`
}

// PreviewConfig holds live preview configuration.
type PreviewConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	FPS              int     `mapstructure:"fps"`
	Scale            float64 `mapstructure:"scale"`
	JPEGQuality      int     `mapstructure:"jpeg_quality"`
	Rotate           bool    `mapstructure:"rotate"`
	SubscriberBuffer int     `mapstructure:"subscriber_buffer"`
	DepthStride      int     `mapstructure:"depth_stride"`
}

// MergeConfig holds audio merge configuration.
type MergeConfig struct {
	KeepExistingAudio bool `mapstructure:"keep_existing_audio"`
	RotationDegrees   int  `mapstructure:"rotation_degrees"`
}

// ThumbnailConfig holds recording thumbnail configuration.
type ThumbnailConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Quality int  `mapstructure:"quality"`
}

// RetentionConfig holds the recording purge schedule.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // 6-field cron expression
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// SensorConfig holds settings for the built-in synthetic sensor.
type SensorConfig struct {
	Width       int  `mapstructure:"width"`
	Height      int  `mapstructure:"height"`
	DepthWidth  int  `mapstructure:"depth_width"`
	DepthHeight int  `mapstructure:"depth_height"`
	Audio       bool `mapstructure:"audio"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIDARCAP_ and use underscores for nesting.
// Example: LIDARCAP_CAPTURE_TARGET_FPS=60.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/lidarcap")
		v.AddConfigPath("$HOME/.lidarcap")
	}

	v.SetEnvPrefix("LIDARCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the configuration held by v. Text values
// such as "512MiB" decode into ByteSize fields.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		stringToDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// stringToDurationHook accepts day, week and month units on top of Go
// durations, so "30d" is a valid retention age.
func stringToDurationHook(f, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	s, _ := data.(string)
	if strings.TrimSpace(s) == "" {
		return time.Duration(0), nil
	}
	return duration.Parse(s)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // preview streams are long-lived
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "lidarcap.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.recordings_dir", "recordings")
	v.SetDefault("storage.min_free_space", defaultMinFreeSpaceBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact_fields", []string{"device_id", "dsn"})

	// Device defaults (resolved from the host when empty)
	v.SetDefault("device.id", "")
	v.SetDefault("device.type", "")
	v.SetDefault("device.name", "")

	// Capture defaults
	v.SetDefault("capture.target_fps", defaultTargetFPS)
	v.SetDefault("capture.pool_capacity", defaultPoolCapacity)
	v.SetDefault("capture.good_window_radius", defaultGoodWindowRadius)
	v.SetDefault("capture.frame_queue_depth", defaultFrameQueueDepth)
	v.SetDefault("capture.recorder_queue_depth", defaultRecorderQueueDepth)
	v.SetDefault("capture.aux_capture", true)
	v.SetDefault("capture.full_video_audio", false)
	v.SetDefault("capture.auto_lidar", false)

	// Encoder defaults
	v.SetDefault("encoder.kind", "ffmpeg")
	v.SetDefault("encoder.binary_path", "")
	v.SetDefault("encoder.codec", "libx264")
	v.SetDefault("encoder.preset", "ultrafast")
	v.SetDefault("encoder.bitrate", "")
	v.SetDefault("encoder.gop", defaultTargetFPS)
	v.SetDefault("encoder.queue_depth", defaultFrameQueueDepth)
	v.SetDefault("encoder.fragment_duration", defaultFragmentDuration)

	// Compression defaults
	v.SetDefault("compression.codec", "zlib")
	v.SetDefault("compression.level", defaultCompressionLevel)

	// Preview defaults
	v.SetDefault("preview.enabled", true)
	v.SetDefault("preview.fps", defaultPreviewFPS)
	v.SetDefault("preview.scale", defaultPreviewScale)
	v.SetDefault("preview.jpeg_quality", defaultPreviewQuality)
	v.SetDefault("preview.rotate", true)
	v.SetDefault("preview.subscriber_buffer", defaultPreviewSubscribers)
	v.SetDefault("preview.depth_stride", defaultPreviewDepthStride)

	// Merge defaults
	v.SetDefault("merge.keep_existing_audio", true)
	v.SetDefault("merge.rotation_degrees", defaultRotationDegrees)

	// Thumbnail defaults
	v.SetDefault("thumbnail.enabled", true)
	v.SetDefault("thumbnail.quality", defaultThumbnailQuality)

	// Retention defaults
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.schedule", "0 0 3 * * *") // daily at 3 AM
	v.SetDefault("retention.max_age", defaultRetentionMaxAge)

	// Synthetic sensor defaults
	v.SetDefault("sensor.width", defaultSensorWidth)
	v.SetDefault("sensor.height", defaultSensorHeight)
	v.SetDefault("sensor.depth_width", defaultSensorDepthWidth)
	v.SetDefault("sensor.depth_height", defaultSensorDepthHeight)
	v.SetDefault("sensor.audio", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.MinFreeSpace < 0 {
		return fmt.Errorf("storage.min_free_space must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Capture.TargetFPS < 1 {
		return fmt.Errorf("capture.target_fps must be at least 1")
	}
	if c.Capture.PoolCapacity < 1 {
		return fmt.Errorf("capture.pool_capacity must be at least 1")
	}
	if c.Capture.GoodWindowRadius < 0 {
		return fmt.Errorf("capture.good_window_radius must not be negative")
	}
	if c.Capture.FrameQueueDepth < 1 {
		return fmt.Errorf("capture.frame_queue_depth must be at least 1")
	}
	if c.Capture.RecorderQueueDepth < 1 {
		return fmt.Errorf("capture.recorder_queue_depth must be at least 1")
	}

	validEncoders := map[string]bool{"ffmpeg": true, "null": true}
	if !validEncoders[c.Encoder.Kind] {
		return fmt.Errorf("encoder.kind must be one of: ffmpeg, null")
	}

	validCodecs := map[string]bool{"zlib": true, "xz": true, "brotli": true, "bzip2": true}
	if !validCodecs[c.Compression.Codec] {
		return fmt.Errorf("compression.codec must be one of: zlib, xz, brotli, bzip2")
	}

	if c.Preview.Enabled {
		if c.Preview.FPS < 1 {
			return fmt.Errorf("preview.fps must be at least 1")
		}
		if c.Preview.Scale <= 0 || c.Preview.Scale > 1 {
			return fmt.Errorf("preview.scale must be in (0, 1]")
		}
		if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
			return fmt.Errorf("preview.jpeg_quality must be between 1 and 100")
		}
	}

	if c.Merge.RotationDegrees%90 != 0 {
		return fmt.Errorf("merge.rotation_degrees must be a multiple of 90")
	}

	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be positive when retention is enabled")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RecordingsPath returns the full path to the recordings directory.
func (c *StorageConfig) RecordingsPath() string {
	return filepath.Join(c.BaseDir, c.RecordingsDir)
}
