// Package config provides configuration management for streamcore using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultBlockSize            = 256 * 1024
	defaultMaxCacheBlocks       = 64
	defaultMaxForwardReadBlocks = 8
	defaultPollInterval         = 20 * time.Millisecond
	defaultHTTPTimeout          = 30 * time.Second
	defaultRetryAttempts        = 3
	defaultRetryDelay           = 1 * time.Second
	defaultSeekWindowSeconds    = 1
	defaultOutputRate           = 48000
	defaultOutputChannels       = 2
	defaultNALLengthSize        = 4
)

// Config holds all configuration for the application.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	IOBridge   IOBridgeConfig   `mapstructure:"iobridge"`
	Decode     DecodeConfig     `mapstructure:"decode"`

	// HTTPClients holds one named profile per entry in downloader.Sessions,
	// keyed by the same name a Stream pins via SessionName.
	HTTPClients map[string]HTTPClientConfig `mapstructure:"http_clients"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DownloaderConfig holds block-cache downloader configuration.
type DownloaderConfig struct {
	// BlockSize is the fixed-size unit every ranged fetch downloads.
	// Supports human-readable values like "256KB", "1MB", or raw byte counts.
	BlockSize ByteSize `mapstructure:"block_size"`

	// MaxCacheBlocks bounds how many blocks a stream keeps. On overflow the
	// lowest cached block is evicted if it lies behind the read head's block,
	// otherwise the farthest-ahead block is.
	MaxCacheBlocks int `mapstructure:"max_cache_blocks"`

	// MaxForwardReadBlocks bounds how far ahead of the read head the
	// scheduler will fetch.
	MaxForwardReadBlocks int `mapstructure:"max_forward_read_blocks"`

	// DefaultSessionName selects which entry in HTTPClients serves a stream
	// that does not pin one via Stream.SessionName.
	DefaultSessionName string `mapstructure:"default_session_name"`
}

// IOBridgeConfig holds the blocking-read/seek adapter's configuration.
type IOBridgeConfig struct {
	// PollInterval is the cadence the bridge waits on between checks of
	// whether its requested byte range has become available.
	PollInterval Duration `mapstructure:"poll_interval"`
}

// DecodeConfig holds demux/decode driver configuration.
type DecodeConfig struct {
	FFmpeg FFmpegConfig `mapstructure:"ffmpeg"`

	// UseHardware selects the hardware-accelerated video backend when an
	// accelerator was detected; HWAccelType pins a specific one by name
	// instead of the best-detected default.
	UseHardware bool   `mapstructure:"use_hardware"`
	HWAccelType string `mapstructure:"hwaccel_type"`

	// NALLengthSize is the AVCDecoderConfigurationRecord length field width
	// demux reframes access units to, usually 4.
	NALLengthSize int `mapstructure:"nal_length_size"`

	OutputRate     int `mapstructure:"output_rate"`
	OutputChannels int `mapstructure:"output_channels"`

	// SeekWindow is loaded and defaulted but not read by any package:
	// demux.Session always opens a fixed ±1 second window around its anchor
	// seek.
	SeekWindow Duration `mapstructure:"seek_window"`
}

// FFmpegConfig holds FFmpeg binary configuration. Only BinaryPath is read
// (by the probe command); ProbePath, UseEmbedded and HWAccelPriority are
// loaded but not consumed, and ffmpeg.GetRecommendedHWAccel ranks
// accelerators by its own fixed order.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string   `mapstructure:"probe_path"`       // Path to ffprobe binary (not read)
	UseEmbedded     bool     `mapstructure:"use_embedded"`     // Not read
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // Not read; default: vaapi, nvenc, qsv, amf
}

// HTTPClientConfig holds one named HTTP client profile.
type HTTPClientConfig struct {
	Timeout       Duration `mapstructure:"timeout"`
	RetryAttempts int      `mapstructure:"retry_attempts"`
	RetryDelay    Duration `mapstructure:"retry_delay"`
	UserAgent     string   `mapstructure:"user_agent"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMCORE_ and use underscores
// for nesting. Example: STREAMCORE_DOWNLOADER_BLOCK_SIZE=512KB.
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
		v.AddConfigPath("/etc/streamcore")
		v.AddConfigPath("$HOME/.streamcore")
	}

	v.SetEnvPrefix("STREAMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
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

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Downloader defaults
	v.SetDefault("downloader.block_size", defaultBlockSize)
	v.SetDefault("downloader.max_cache_blocks", defaultMaxCacheBlocks)
	v.SetDefault("downloader.max_forward_read_blocks", defaultMaxForwardReadBlocks)
	v.SetDefault("downloader.default_session_name", "default")

	// IOBridge defaults
	v.SetDefault("iobridge.poll_interval", defaultPollInterval)

	// Decode defaults
	v.SetDefault("decode.ffmpeg.binary_path", "")
	v.SetDefault("decode.ffmpeg.probe_path", "")
	v.SetDefault("decode.ffmpeg.use_embedded", false)
	v.SetDefault("decode.ffmpeg.hwaccel_priority", []string{"vaapi", "nvenc", "qsv", "amf"})
	v.SetDefault("decode.use_hardware", false)
	v.SetDefault("decode.nal_length_size", defaultNALLengthSize)
	v.SetDefault("decode.output_rate", defaultOutputRate)
	v.SetDefault("decode.output_channels", defaultOutputChannels)
	v.SetDefault("decode.seek_window", defaultSeekWindowSeconds*time.Second)

	// Default HTTP client profile
	v.SetDefault("http_clients.default.timeout", defaultHTTPTimeout)
	v.SetDefault("http_clients.default.retry_attempts", defaultRetryAttempts)
	v.SetDefault("http_clients.default.retry_delay", defaultRetryDelay)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Downloader.BlockSize <= 0 {
		return fmt.Errorf("downloader.block_size must be positive")
	}
	if c.Downloader.MaxCacheBlocks < 1 {
		return fmt.Errorf("downloader.max_cache_blocks must be at least 1")
	}
	if c.Downloader.MaxForwardReadBlocks < 1 {
		return fmt.Errorf("downloader.max_forward_read_blocks must be at least 1")
	}

	if c.Decode.NALLengthSize != 1 && c.Decode.NALLengthSize != 2 && c.Decode.NALLengthSize != 4 {
		return fmt.Errorf("decode.nal_length_size must be 1, 2, or 4")
	}
	if c.Decode.OutputRate < 1 {
		return fmt.Errorf("decode.output_rate must be positive")
	}
	if c.Decode.OutputChannels < 1 {
		return fmt.Errorf("decode.output_channels must be positive")
	}

	return nil
}
