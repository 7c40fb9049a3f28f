package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. format is "console" or "json".
func Init(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var l zerolog.Logger
	switch strings.ToLower(format) {
	case "json":
		l = zerolog.New(os.Stdout).With().Timestamp().Logger()
	case "console", "":
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}

	zerolog.SetGlobalLevel(lvl)
	log.Logger = l.Level(lvl)
	return nil
}
