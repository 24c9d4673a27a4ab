package httpapi

import (
	"log"

	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// logEvent emits one structured log line, falling back to the standard
// logger when no zerolog logger has been installed.
func logEvent(build func(*zerolog.Logger), fallback string, args ...any) {
	if zlog != nil {
		build(zlog)
		return
	}
	log.Printf(fallback, args...)
}
