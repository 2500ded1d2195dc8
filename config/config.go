package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Config{} and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued tasks before backpressure; default: 256
	TaskTimeout time.Duration

	// Retry.
	MaxRetries int
	RetryDelay time.Duration

	// Compress quality of output files (1-100; default 90).
	CompressQuality int

	// PreserveEXIF copies source EXIF attributes into crop results for JPEG
	// sources.  Off by default; orientation is already applied to the pixels.
	PreserveEXIF bool

	// Streaming / memory limits.
	MaxImageBytes int64 // 0 = no limit
	ChunkSize     int   // streaming chunk size in bytes; default 32 KiB

	// Source resolution.
	HTTPTimeout time.Duration // fetch timeout for http(s) sources

	// Temp-file placement and sweeping.
	Temp TempConfig

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// TempConfig controls where edited images are written and how leftover files
// from previous runs are cleaned up.
type TempConfig struct {
	Dir          string // default: os.TempDir()
	Prefix       string // filename prefix for outputs and sweeping
	Permissions  uint32 // default 0644
	SweepOnStart bool   // remove leftover prefix-matching files on Start
	SweepOnStop  bool   // and again on Stop
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:     0, // resolved at runtime to NumCPU
		QueueSize:       256,
		TaskTimeout:     30 * time.Second,
		MaxRetries:      3,
		RetryDelay:      200 * time.Millisecond,
		CompressQuality: 90,
		ChunkSize:       32 * 1024,
		HTTPTimeout:     20 * time.Second,
		Temp: TempConfig{
			Prefix:       "edited_image_",
			SweepOnStart: true,
			SweepOnStop:  true,
		},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.CompressQuality < 1 || c.CompressQuality > 100 {
		return errors.New("config: CompressQuality must be between 1 and 100")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Temp.Prefix == "" {
		return errors.New("config: Temp.Prefix must not be empty")
	}
	return nil
}
