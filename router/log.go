package router

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the base zerolog.Logger every worker's tagged logger
// (worker.Config.Log) derives from. console is a human-readable writer
// for local/dev use; production deployments should instead pass a plain
// os.Stdout through NewJSONLogger for machine-parseable logs.
func NewLogger(console bool) zerolog.Logger {
	var w io.Writer = os.Stdout
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// NewJSONLogger builds a structured, JSON-line logger writing to w.
func NewJSONLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
