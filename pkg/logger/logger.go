package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
type DebugCategory string

const (
	DebugRTSP      DebugCategory = "rtsp"
	DebugRTP       DebugCategory = "rtp"
	DebugRTCP      DebugCategory = "rtcp"
	DebugTransport DebugCategory = "transport"
	DebugSession   DebugCategory = "session"
	DebugAll       DebugCategory = "all"
)

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToZerologLevel converts LogLevel to a zerolog.Level
func (l LogLevel) ToZerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugRTSP] = true
		c.EnabledCategories[DebugRTP] = true
		c.EnabledCategories[DebugRTCP] = true
		c.EnabledCategories[DebugTransport] = true
		c.EnabledCategories[DebugSession] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Logger wraps zerolog.Logger with category-based debugging
type Logger struct {
	zerolog.Logger
	config *Config
	file   *os.File
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	if cfg.Format == FormatText {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(writer).Level(cfg.Level.ToZerologLevel()).With().Timestamp().Logger()

	return &Logger{Logger: zl, config: cfg, file: file}, nil
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a new Logger carrying the given session/component attribute
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str(key, value).Logger(),
		config: l.config,
		file:   l.file,
	}
}

// category-specific logging helpers, mirroring the teacher's DebugRTP/DebugNAL style

func (l *Logger) DebugRTSP(msg string, fields map[string]any) {
	l.debugCategory(DebugRTSP, "rtsp", msg, fields)
}

func (l *Logger) DebugRTP(msg string, fields map[string]any) {
	l.debugCategory(DebugRTP, "rtp", msg, fields)
}

func (l *Logger) DebugRTCP(msg string, fields map[string]any) {
	l.debugCategory(DebugRTCP, "rtcp", msg, fields)
}

func (l *Logger) DebugTransport(msg string, fields map[string]any) {
	l.debugCategory(DebugTransport, "transport", msg, fields)
}

func (l *Logger) DebugSession(msg string, fields map[string]any) {
	l.debugCategory(DebugSession, "session", msg, fields)
}

func (l *Logger) debugCategory(cat DebugCategory, tag, msg string, fields map[string]any) {
	if !l.config.IsCategoryEnabled(cat) {
		return
	}
	ev := l.Debug().Str("category", tag)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Global default logger

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault sets the global default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: zerolog.New(os.Stderr).With().Timestamp().Logger(), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}
