package log

import (
	"fmt"
	"path/filepath"
)

// LogCfg configures the client logger and its appenders.
type LogCfg struct {
	// LogPath is the target file for the file appender.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level written. Accepts level names in config files.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB rotates the log file once it grows past this size. 0 disables rotation.
	FileSplitMB int `mapstructure:"splitMB"`

	// CallerSkip adds extra frames to skip when resolving caller information.
	CallerSkip int `mapstructure:"callerSkip"`

	FileAppender    bool `mapstructure:"fileAppender"`
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// RingBufferKB keeps the last N kilobytes of output in memory for crash
	// reports. 0 disables the ring appender.
	RingBufferKB int `mapstructure:"ringBufferKB"`

	// LevelChange overrides the level for specific file:line locations.
	LevelChange []LevelChangeEntry `mapstructure:"levelChange"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName returns the configuration section name.
func (cfg *LogCfg) GetName() string {
	return "log"
}

// Validate checks the configuration for correctness and normalizes the log path.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("invalid log level: %d, must be between %d (Trace) and %d (Fatal)",
			cfg.LogLevel, TraceLevel, FatalLevel)
	}

	if cfg.FileSplitMB < 0 || cfg.FileSplitMB > 1024 {
		return fmt.Errorf("file split size must be between 0MB and 1024MB, got %dMB", cfg.FileSplitMB)
	}

	if cfg.CallerSkip < 0 {
		return fmt.Errorf("caller skip must be non-negative, got %d", cfg.CallerSkip)
	}

	if cfg.RingBufferKB < 0 {
		return fmt.Errorf("ring buffer size must be non-negative, got %dKB", cfg.RingBufferKB)
	}

	if cfg.FileAppender {
		if cfg.LogPath == "" {
			return fmt.Errorf("log path cannot be empty when file appender is enabled")
		}
		cfg.LogPath = filepath.Clean(cfg.LogPath)
	}

	if !cfg.FileAppender && !cfg.ConsoleAppender && cfg.RingBufferKB == 0 {
		return fmt.Errorf("at least one appender (file, console or ring) must be enabled")
	}

	return nil
}

// DefaultCfg returns the configuration used before Initialize is called.
func DefaultCfg() *LogCfg {
	return &LogCfg{
		LogPath:           "./netclient.log",
		LogLevel:          InfoLevel,
		FileSplitMB:       50,
		CallerSkip:        1,
		ConsoleAppender:   true,
		EnabledCallerInfo: true,
	}
}
