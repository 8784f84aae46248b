// Package logger installs the process-wide slog handler. Import it for its
// side effect from main packages.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// LogLevel is the minimum level of the default logger, set from --log-level.
var LogLevel slog.LevelVar

// SetLevel parses a level name such as "debug" or "warn+2" into LogLevel.
// An empty name leaves the level unchanged.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	LogLevel.Set(level)
	return nil
}

func newHandler(w io.Writer, color bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      &LogLevel,
		TimeFormat: time.DateTime,
		NoColor:    !color,
	})
}

// colorEnabled follows the NO_COLOR convention, and only colors terminals.
func colorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func init() {
	slog.SetDefault(slog.New(newHandler(os.Stderr, colorEnabled(os.Stderr))))
}
