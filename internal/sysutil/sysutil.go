// Package sysutil holds process-level helpers shared by the groupchatd
// commands: logger setup and build identification.
package sysutil

import (
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a level name (case-insensitive) onto a zerolog level.
// Unknown names fall back to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetupLogging sets the global level and replaces the global logger with
// one writing to w. Pretty output uses the console writer.
func SetupLogging(w io.Writer, level string, pretty bool) {
	if w == nil {
		w = os.Stderr
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "groupchatd").Logger()
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Version is overridden at link time with -ldflags "-X ...sysutil.Version=".
var Version = ""

// Build reports the binary version and VCS revision, preferring the
// link-time Version over module build info.
func Build() (version, commit string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return FirstNonEmpty(Version, "dev"), ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			commit = s.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		}
	}
	mod := bi.Main.Version
	if mod == "(devel)" {
		mod = ""
	}
	return FirstNonEmpty(Version, mod, "dev"), commit
}
