// Package logx provides structured logging with context-aware debug logging.
package logx

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled     bool
	FileLogging bool
	LogDir      string
	Domains     map[string]bool // Which domains to enable debug for (nil = all)
}

//nolint:gochecknoglobals // Intentional global debug configuration
var (
	debugConfig = &DebugConfig{
		Enabled:     false,
		FileLogging: false,
		LogDir:      "",
		Domains:     nil,
	}
	debugMutex sync.RWMutex
)

// getProjectRoot finds the project root directory by looking for go.mod.
func getProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func getDefaultLogDir() string {
	return filepath.Join(getProjectRoot(), "logs")
}

func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

// initDebugFromEnv initializes debug configuration from environment variables.
func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugConfig.LogDir == "" {
		debugConfig.LogDir = getDefaultLogDir()
	}

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	if debugFile := os.Getenv("DEBUG_FILE"); debugFile == "1" || strings.EqualFold(debugFile, "true") {
		debugConfig.FileLogging = true
	}

	if debugLogDir := os.Getenv("DEBUG_LOG_DIR"); debugLogDir != "" {
		debugConfig.LogDir = debugLogDir
	}

	// Parse domain filtering from DEBUG_DOMAINS=workflow,odata,executor
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger creates a logger scoped to a component (e.g. "workflow", "sapclient").
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // Log to stderr for CLI compatibility
	}
}

// SetDebugConfig configures global debug logging settings.
func SetDebugConfig(enabled, fileLogging bool, logDir string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugConfig.Enabled = enabled
	debugConfig.FileLogging = fileLogging

	if logDir == "" {
		debugConfig.LogDir = getDefaultLogDir()
	} else {
		debugConfig.LogDir = logDir
	}

	if fileLogging && debugConfig.LogDir != "" {
		if err := os.MkdirAll(debugConfig.LogDir, 0755); err != nil {
			fmt.Printf("Warning: failed to create log directory %s: %v\n", debugConfig.LogDir, err)
		}
	}
}

// SetDebugDomains configures which domains should have debug logging enabled.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil // Enable all domains
	} else {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range domains {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%s [%s] %s: %s", timestamp, level, l.component, message)
}

// Debug logs a debug message if debug logging is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Debug logs a context-aware debug message for a specific domain.
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}
	NewLogger(domain).log(LevelDebug, format, args...)
}

// DebugToFile writes a debug message to a domain-specific log file.
func (l *Logger) DebugToFile(filename, format string, args ...any) {
	debugMutex.RLock()
	enabled := debugConfig.Enabled && debugConfig.FileLogging
	logDir := debugConfig.LogDir
	debugMutex.RUnlock()

	if !enabled {
		return
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		l.Warn("failed to create debug log directory: %v", err)
		return
	}

	path := filepath.Join(logDir, filename)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.Warn("failed to open debug log file %s: %v", path, err)
		return
	}
	defer func() { _ = f.Close() }()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	message := fmt.Sprintf(format, args...)
	fmt.Fprintf(f, "%s [%s] %s\n", timestamp, l.component, message)
}

// GetComponent returns the component name for this logger.
func (l *Logger) GetComponent() string {
	return l.component
}

// WithComponent returns a new logger with a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return NewLogger(component)
}

// Infof logs an info message using a default logger.
func Infof(format string, args ...any) {
	NewLogger("main").Info(format, args...)
}

// Warnf logs a warning message using a default logger.
func Warnf(format string, args ...any) {
	NewLogger("main").Warn(format, args...)
}

// Errorf logs an error message using a default logger and returns it as an error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	NewLogger("main").Error("%s", err.Error())
	return err
}

// Wrap wraps an error with a message, preserving the original for errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
