package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogLevel string

const (
	// LogLevelDebug is used for debug messages
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is used for informational messages
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is used for warning messages
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is used for error messages
	LogLevelError LogLevel = "error"
)

// slogLevel maps a LogLevel to its slog counterpart, defaulting to info.
func (l LogLevel) slogLevel() slog.Level {
	switch LogLevel(strings.ToLower(string(l))) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dailyRotatingWriter appends to <filename>-<date>.log and switches files when the local date changes.
type dailyRotatingWriter struct {
	logDir      string
	filename    string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// newDailyRotatingWriter creates a new daily rotating writer
func newDailyRotatingWriter(logDir, filename string) *dailyRotatingWriter {
	return &dailyRotatingWriter{
		logDir:   logDir,
		filename: filename,
	}
}

// Write implements the io.Writer interface
func (w *dailyRotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// log file names follow the local date
	currentDate := time.Now().Format("2006-01-02")

	// Check if we need to rotate (new day or no file open)
	if w.currentFile == nil || w.currentDate != currentDate {
		if err := w.rotate(currentDate); err != nil {
			return 0, err
		}
	}

	return w.currentFile.Write(p)
}

// rotate closes the current file and opens a new one for the given date
func (w *dailyRotatingWriter) rotate(date string) error {
	if w.currentFile != nil {
		w.currentFile.Close()
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("%s-%s.log", w.filename, date))

	// vault logs stay private to the user even though they never contain key material
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}

	w.currentFile = file
	w.currentDate = date
	return nil
}

// Close closes the current file
func (w *dailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// CreateLogger creates a JSON logger writing to daily rotating files in logDir.
// The returned closer releases the current log file; it is never nil.
// If logDir cannot be created the logger falls back to stderr.
func CreateLogger(logLevel LogLevel, logDir string, fileName string) (Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: logLevel.slogLevel()}

	if err := os.MkdirAll(logDir, 0700); err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), io.NopCloser(nil)
	}

	writer := newDailyRotatingWriter(logDir, fileName)
	return slog.New(slog.NewJSONHandler(writer, opts)), writer
}

// NewConsoleLogger creates a human readable logger on w.
func NewConsoleLogger(logLevel LogLevel, w io.Writer) Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel.slogLevel()}))
}

// nopLogger is a no-operation logger that implements the Logger interface.
type nopLogger struct{}

// NopLogger discards everything. Constructors substitute it for a nil Logger.
var NopLogger Logger = &nopLogger{}

// Info implements the Logger interface for nopLogger.
func (l *nopLogger) Info(msg string, args ...any) {}

// Warn implements the Logger interface for nopLogger.
func (l *nopLogger) Warn(msg string, args ...any) {}

// Error implements the Logger interface for nopLogger.
func (l *nopLogger) Error(msg string, args ...any) {}

// Debug implements the Logger interface for nopLogger.
func (l *nopLogger) Debug(msg string, args ...any) {}

// OrNop returns l, or NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger
	}
	return l
}
