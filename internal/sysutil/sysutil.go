// Package sysutil holds small process-level helpers shared by the entrypoint.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a config string. Unknown or
// empty values fall back to info so a typo in LOG_LEVEL cannot silence the
// process.
func SetLogLevel(lvl string) {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	parsed, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
