package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging applies c to the standard logrus logger. The returned closer
// releases the log file, if any.
func SetupLogging(c LogConfig) (io.Closer, error) {
	return configure(logrus.StandardLogger(), c)
}

func configure(logger *logrus.Logger, c LogConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, closer, err := openOutput(c)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(c LogConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(c.Output) {
	case "", "stderr":
		return os.Stderr, nopCloser{}, nil
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	}

	if dir := filepath.Dir(c.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory: %w", err)
		}
	}
	if c.Rotation.Enable {
		lj := &lumberjack.Logger{
			Filename:   c.Output,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: max(c.Rotation.MaxBackups, 1),
			MaxAge:     max(c.Rotation.MaxAgeDays, 1),
			Compress:   c.Rotation.Compress,
		}
		return lj, lj, nil
	}
	f, err := os.OpenFile(c.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	return f, f, nil
}
