// Package logging configures logrus and provides the structured event entry used by jobs and handlers.
package logging

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logger from format ("json" or text) and level names
func Setup(format, level string) {
	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Event returns an entry tagged with the event name and a UTC timestamp.
// fields may be nil.
func Event(name string, fields logrus.Fields) *logrus.Entry {
	entry := logrus.WithFields(logrus.Fields{
		"event":     name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	return entry
}
