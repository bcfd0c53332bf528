package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"

	"aidispatch/internal/core"
)

// LogLevel defines the severity level for log messages.
type LogLevel int

// Log level constants.
const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelTags = [...]string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] ", "[FATAL] "}

// AppLogger is the application logger implementation.
type AppLogger struct {
	logger     *stdlog.Logger
	debug      bool
	component  string
	fileHandle *os.File
	mu         *sync.Mutex
}

// NewAppLoggerWithConfig creates a logger instance with configuration.
func NewAppLoggerWithConfig(output io.Writer, debugMode bool) *AppLogger {
	return &AppLogger{
		logger: stdlog.New(output, "", stdlog.LstdFlags),
		debug:  debugMode,
		mu:     &sync.Mutex{},
	}
}

// Named returns a logger that tags every line with a component name.
// The returned logger shares output and file handle with its parent.
func (l *AppLogger) Named(component string) *AppLogger {
	if l == nil {
		return nil
	}
	child := *l
	if l.component != "" {
		component = l.component + "." + component
	}
	child.component = component
	return &child
}

func (l *AppLogger) output(level LogLevel, format string, args ...any) string {
	var b strings.Builder
	b.WriteString(levelTags[level])
	if l.component != "" {
		b.WriteString("[")
		b.WriteString(l.component)
		b.WriteString("] ")
	}
	b.WriteString(fmt.Sprintf(format, args...))
	return b.String()
}

// Debug logs a message at DEBUG level.
func (l *AppLogger) Debug(format string, args ...any) {
	if l != nil && l.debug {
		_ = l.logger.Output(2, l.output(DEBUG, format, args...))
	}
}

// Info logs a message at INFO level.
func (l *AppLogger) Info(format string, args ...any) {
	if l != nil {
		_ = l.logger.Output(2, l.output(INFO, format, args...))
	}
}

// Warn logs a message at WARN level.
func (l *AppLogger) Warn(format string, args ...any) {
	if l != nil {
		_ = l.logger.Output(2, l.output(WARN, format, args...))
	}
}

// Error logs a message at ERROR level.
func (l *AppLogger) Error(format string, args ...any) {
	if l != nil {
		_ = l.logger.Output(2, l.output(ERROR, format, args...))
	}
}

// Fatal logs a message at FATAL level and terminates the process.
func (l *AppLogger) Fatal(format string, args ...any) {
	if l != nil {
		_ = l.logger.Output(2, l.output(FATAL, format, args...))
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}

// Close safely closes log file handle.
func (l *AppLogger) Close() error {
	if l == nil || l.mu == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileHandle != nil {
		err := l.fileHandle.Close()
		l.fileHandle = nil
		return err
	}
	return nil
}

// containsPathTraversal checks if path contains parent directory references.
func containsPathTraversal(path string) bool {
	for _, pattern := range []string{"..", "../", "..\\"} {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// createFileOutput opens LOG_FILE for appending, falls back to stdout on failure.
func createFileOutput(path string) (io.Writer, *os.File) {
	if path == "" {
		return os.Stdout, nil
	}

	if len(path) > core.MaxLogFilePathLength {
		fmt.Fprintf(os.Stderr, "[WARN] LOG_FILE path too long, falling back to stdout\n")
		return os.Stdout, nil
	}

	if containsPathTraversal(path) {
		fmt.Fprintf(os.Stderr, "[WARN] LOG_FILE contains path traversal characters, falling back to stdout\n")
		return os.Stdout, nil
	}

	//nolint:gosec // G304: path from env var, validated by containsPathTraversal
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, core.FilePermissionReadWrite)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to open LOG_FILE '%s': %v, falling back to stdout\n", path, err)
		return os.Stdout, nil
	}

	return file, file
}

// IsDebug returns whether debug logging is enabled.
func IsDebug() bool {
	if os.Getenv("GIN_MODE") == "debug" {
		return true
	}
	switch strings.ToLower(os.Getenv("AI_DEBUG")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// CreateLogger creates a logger instance (for dependency injection).
func CreateLogger() *AppLogger {
	output, fileHandle := createFileOutput(os.Getenv("LOG_FILE"))

	return &AppLogger{
		logger:     stdlog.New(output, "", stdlog.LstdFlags),
		debug:      IsDebug(),
		fileHandle: fileHandle,
		mu:         &sync.Mutex{},
	}
}

var _ core.Logger = (*AppLogger)(nil)
