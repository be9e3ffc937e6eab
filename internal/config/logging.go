package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates the process logger: text to stderr, JSON to logFile.
// With console false only the file receives records, which keeps a live
// progress view readable. The returned cleanup closes the file.
func SetupLogger(logFile string, level slog.Level, console bool) (*slog.Logger, func() error) {
	var stderr io.Writer = os.Stderr
	if !console {
		stderr = io.Discard
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		logger.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return logger, func() error { return nil }
	}

	return SetupLoggerWithWriters(stderr, file, level), file.Close
}

// SetupLoggerWithWriters fans out to a text handler on stderr and a JSON
// handler on file.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}
