// Package logging builds the zerolog logger shared by the CLI, the fixture
// renderers and the sandbox server.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on out, or a human-readable console logger when
// console is set. Unknown levels fall back to info.
func New(out io.Writer, level string, console bool) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
