// Package logger provides leveled structured logging on top of zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)

// Init configures the process logger with the specified level and format.
// Format "text" selects the human-readable console writer; anything else
// writes JSON lines.
func Init(level string, format string) {
	initWithWriter(level, format, os.Stderr)
}

func initWithWriter(level, format string, w io.Writer) {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		l = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}

	base = zerolog.New(out).With().Timestamp().Logger().Level(l)
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

func Debug(format string, args ...interface{}) {
	base.Debug().Msg(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	base.Info().Msg(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	base.Warn().Msg(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	base.Error().Msg(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	base.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
