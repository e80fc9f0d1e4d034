// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets up the global zerolog logger. In dev mode it writes a
// human-readable console format; otherwise structured JSON, following the
// teacher's "log.Println" -> production-JSON split but with a real
// structured logger, matching original_source's tracing_subscriber::fmt
// dev/non-dev distinction.
func Init(dev bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
