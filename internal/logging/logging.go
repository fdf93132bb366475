// Package logging configures the logrus logger shared by walletload components.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

var validFormats = map[string]bool{
	"text": true,
	"json": true,
}

// NullLogger discards everything. Components fall back to it when no logger is supplied.
var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

// New returns a logger writing to w at the given level ("info" when empty)
// in text or json format ("text" when empty).
func New(level, format string, w io.Writer) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "text"
	}
	if !validFormats[format] {
		return nil, fmt.Errorf("log format %q is not supported: use \"text\" or \"json\"", format)
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	return logger, nil
}

// Component returns an entry tagged with the component name. A nil logger
// yields an entry on NullLogger.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = NullLogger
	}
	return logger.WithField("component", name)
}

// OrNull returns entry, or a NullLogger entry when entry is nil.
func OrNull(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return logrus.NewEntry(NullLogger)
	}
	return entry
}
