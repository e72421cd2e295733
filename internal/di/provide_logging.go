package di

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// ProvideLogger creates a new zerolog.Logger configured for the runtime environment.
// SDAF_LOG_FORMAT=json, or a stderr that is not a terminal, selects JSON output; otherwise
// it uses console format with pretty printing. SDAF_LOG_LEVEL overrides the info default.
func ProvideLogger() zerolog.Logger {
	return NewLogger(os.Stderr, os.Getenv("SDAF_LOG_FORMAT"), os.Getenv("SDAF_LOG_LEVEL"))
}

// NewLogger builds the logger ProvideLogger returns for an explicit writer and settings
func NewLogger(w io.Writer, format, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == "json" || !isTerminal(w) {
		return zerolog.New(w).
			Level(lvl).
			With().
			Timestamp().
			Logger()
	}

	// Running in terminal - use console format with colors
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
