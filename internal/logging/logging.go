package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"camtrap/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	return newWithWriter(os.Stdout, level, format)
}

func newWithWriter(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup configures the process logger from config, optionally teeing output
// to a date-stamped file, and installs it as the slog default.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("camtrap-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)

		// Best-effort symlink to the current log; failure is not critical.
		currentLogPath := filepath.Join(cfg.Logging.LogDir, "camtrap-current.log")
		os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	logger := newWithWriter(io.MultiWriter(writers...), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("camtrap logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
	)

	return logger, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of a pipeline job.
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}
