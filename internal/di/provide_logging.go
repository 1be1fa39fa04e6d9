package di

import (
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger builds the process logger. Lambda gets JSON lines for
// CloudWatch; local runs get the pretty console writer.
func ProvideLogger() zerolog.Logger {
	var out = zerolog.New(os.Stdout)
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") == "" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(zerolog.InfoLevel).With().Timestamp().Logger()
}
