// Package logging provides the structured logger shared by every package in
// this module. It wraps logrus the same way gazette's broker and consumer
// packages do: a package-level entry, field-tagged calls, no bare fmt/log.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Log is the shared logger instance. Callers should prefer Log.WithFields
// over the bare logrus package logger so call sites stay consistent if this
// is ever swapped for a per-Repo instance.
var Log = log.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// SetLevel adjusts the shared logger's verbosity. Repo construction calls
// this from Config.LogLevel; tests may call it directly to quiet output.
func SetLevel(level log.Level) { Log.SetLevel(level) }

// WithFields is a convenience alias for Log.WithFields, used pervasively by
// command handlers to attach peer_id/doc_id/command context to a log line.
func WithFields(fields log.Fields) *log.Entry { return Log.WithFields(fields) }
