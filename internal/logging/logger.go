// Package logging provides config-driven, categorized file logging for
// ContextFS. Logs are written to <contextfsDir>/logs/ with one file per
// category. Logging is a no-op unless debug mode is enabled in config, so a
// production workspace never pays for log I/O it didn't ask for.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies which ContextFS subsystem produced a log line.
type Category string

const (
	CategoryBoot       Category = "boot"
	CategoryLock       Category = "lock"
	CategoryStore      Category = "fsstore"
	CategoryHistory    Category = "history"
	CategoryArchive    Category = "archive"
	CategoryEmbedding  Category = "embedding"
	CategoryIndex      Category = "index"
	CategoryCompactor  Category = "compactor"
	CategoryPacker     Category = "packer"
	CategoryRetrieval  Category = "retrieval"
	CategoryTrace      Category = "trace"
	CategoryState      Category = "state"
	CategoryCLI        Category = "cli"
	CategoryRPC        Category = "rpc"
	CategoryConfig     Category = "config"
)

// Config mirrors the relevant slice of the top-level ContextFS config so
// this package can be imported without creating an import cycle.
type Config struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Log levels, ordered so lower means more verbose.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

var (
	loggersMu sync.RWMutex
	loggers   = make(map[Category]*CategoryLogger)

	stateMu  sync.RWMutex
	logsDir  string
	cfg      Config
	logLevel = LevelInfo

	// zapBase is the structured core every CategoryLogger writes through.
	// A nop logger until Initialize wires a real one, so calls before boot
	// never panic.
	zapBase = zap.NewNop()
)

// Initialize sets the logs directory and config for the process and, when
// debug mode is enabled, constructs the shared zap core that every
// CategoryLogger writes through. Safe to call multiple times (e.g. after a
// config hot-reload).
func Initialize(contextfsDir string, c Config) error {
	stateMu.Lock()
	logsDir = filepath.Join(contextfsDir, "logs")
	cfg = c
	switch c.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	stateMu.Unlock()

	if !c.DebugMode {
		zapBase = zap.NewNop()
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("logging: create logs dir: %w", err)
	}

	zc := zap.NewProductionEncoderConfig()
	zc.TimeKey = "ts"
	zc.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if c.JSONFormat {
		encoder = zapcore.NewJSONEncoder(zc)
	} else {
		encoder = zapcore.NewConsoleEncoder(zc)
	}

	f, err := os.OpenFile(filepath.Join(logsDir, "boot.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logging: open boot log: %w", err)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(f), zap.NewAtomicLevelAt(zapcore.DebugLevel))
	zapBase = zap.New(core)

	loggersMu.Lock()
	loggers = make(map[Category]*CategoryLogger)
	loggersMu.Unlock()

	Get(CategoryBoot).Info("ContextFS logging initialized (debug=%v level=%s json=%v)", c.DebugMode, c.Level, c.JSONFormat)
	return nil
}

// IsDebugMode reports whether logging is currently active.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return cfg.DebugMode
}

func isCategoryEnabled(category Category) bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// CategoryLogger writes log lines for one Category to its own file under
// <contextfsDir>/logs/, named with the date it was opened; it does not rotate.
type CategoryLogger struct {
	category Category
	file     *os.File
}

// Get returns (creating if needed) the logger for a category. When the
// category or debug mode is disabled, the returned logger silently drops
// every call — callers never need to branch on IsDebugMode themselves.
func Get(category Category) *CategoryLogger {
	if !isCategoryEnabled(category) {
		return &CategoryLogger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	stateMu.RLock()
	dir := logsDir
	stateMu.RUnlock()
	if dir == "" {
		return &CategoryLogger{category: category}
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return &CategoryLogger{category: category}
	}

	l := &CategoryLogger{category: category, file: f}
	loggers[category] = l
	return l
}

func (l *CategoryLogger) write(level string, levelNum int, format string, args ...interface{}) {
	if l.file == nil || levelNum < logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	stateMu.RLock()
	jsonFmt := cfg.JSONFormat
	stateMu.RUnlock()
	if jsonFmt {
		entry := map[string]interface{}{
			"ts":  time.Now().Format(time.RFC3339Nano),
			"cat": string(l.category),
			"lvl": level,
			"msg": msg,
		}
		b, err := json.Marshal(entry)
		if err == nil {
			fmt.Fprintf(l.file, "%s\n", b)
			return
		}
	}
	fmt.Fprintf(l.file, "%s [%s] %s\n", time.Now().Format("2006-01-02T15:04:05.000"), level, msg)
	zapBase.Sugar().Debugf("[%s/%s] %s", l.category, level, msg)
}

func (l *CategoryLogger) Debug(format string, args ...interface{}) { l.write("DEBUG", LevelDebug, format, args...) }
func (l *CategoryLogger) Info(format string, args ...interface{})  { l.write("INFO", LevelInfo, format, args...) }
func (l *CategoryLogger) Warn(format string, args ...interface{})  { l.write("WARN", LevelWarn, format, args...) }
func (l *CategoryLogger) Error(format string, args ...interface{}) { l.write("ERROR", LevelError, format, args...) }

// Timer measures and logs an operation's duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed duration at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning instead of a debug line when elapsed
// exceeds threshold; used for lock-acquire and compaction timing budgets.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
