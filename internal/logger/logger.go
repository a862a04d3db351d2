// Package logger provides a small tagged console logger used throughout the
// core: each call carries a short tag identifying the subsystem plus a
// human-readable message.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	var w io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = lv
	}
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Info logs an informational message under tag.
func Info(tag, msg string) {
	base.Info().Str("tag", tag).Msg(msg)
}

// Success logs a positive-outcome message under tag.
func Success(tag, msg string) {
	base.Info().Str("tag", tag).Bool("ok", true).Msg(msg)
}

// Warn logs a recoverable problem under tag.
func Warn(tag, msg string) {
	base.Warn().Str("tag", tag).Msg(msg)
}

// Error logs a failure under tag.
func Error(tag, msg string) {
	base.Error().Str("tag", tag).Msg(msg)
}

// Section prints a visual separator for grouping console output.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n--- %s ---\n", title)
}

// Stats logs a single named numeric stat, formatted for human readability.
func Stats(key string, value int64) {
	base.Info().Str("tag", "stats").Str("key", key).Msg(humanize.Comma(value))
}

// Server announces the address the HTTP/metrics surface is bound to.
func Server(addr string) {
	Info("server", fmt.Sprintf("listening on %s", addr))
}

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(os.Stdout, "pricewatch %s — starting %s\n", version, time.Now().UTC().Format(time.RFC3339))
}
