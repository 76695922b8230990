// Package logging provides categorized logging for the research orchestrator.
// Each subsystem logs to its own category; in debug mode every category gets
// its own dated file under DATA_DIR/logs/ in addition to the console stream.
// Built on zap cores so file and console output share one encoder pipeline.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, health checks
	CategoryConfig   Category = "config"   // Configuration loading
	CategorySession  Category = "session"  // Orchestrator, session lifecycle
	CategoryPipeline Category = "pipeline" // Pipeline node execution
	CategoryProvider Category = "provider" // Search provider calls
	CategoryFetcher  Category = "fetcher"  // Headless browser fetches
	CategoryLLM      Category = "llm"      // LLM routing and completions
	CategoryMemory   Category = "memory"   // Structured + vector store
	CategoryDomain   Category = "domain"   // Domain classification and config
	CategoryServer   Category = "server"   // HTTP surface
	CategoryHealth   Category = "health"   // Dependency probing
)

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu        sync.RWMutex
	loggers   = map[Category]*Logger{}
	logsDir   string
	debugMode bool
	console   zapcore.Core
	files     []*os.File
	noop      = &Logger{sugar: zap.NewNop().Sugar()}
)

// Initialize sets up the logging directory. Call once at startup with the
// persistence root; debug enables per-category file output and debug level.
func Initialize(dataDir string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	debugMode = debug
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	console = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)

	if dataDir != "" {
		logsDir = filepath.Join(dataDir, "logs")
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	loggers = map[Category]*Logger{}
	return nil
}

// Shutdown flushes and closes all category log files.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
	for _, f := range files {
		_ = f.Close()
	}
	files = nil
	loggers = map[Category]*Logger{}
}

// Get returns (or creates) the logger for a category. Before Initialize it
// returns a no-op logger so library code never has to guard logging calls.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	c := console
	mu.RUnlock()
	if c == nil {
		return noop
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	core := console
	if debugMode && logsDir != "" {
		date := time.Now().Format("2006-01-02")
		path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		} else {
			files = append(files, f)
			encCfg := zap.NewProductionEncoderConfig()
			encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
			fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel)
			core = zapcore.NewTee(console, fileCore)
		}
	}

	l := &Logger{
		category: category,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Timer measures operation duration for performance logging.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.category).Debug("%s took %s", t.operation, time.Since(t.start))
}
