// Package keygen implements a cluster of key generators that periodically
// produce partial keys, exchange them and aggregate them into a time-locked
// decryption key.
//
// The root package only holds the global logger and the list of Prometheus
// collectors that the components populate.
package keygen

import (
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.InfoLevel

func init() {
	lvl := os.Getenv(EnvLogLevel)

	var level zerolog.Level

	switch strings.ToLower(lvl) {
	case "error":
		level = zerolog.ErrorLevel
	case "warn":
		level = zerolog.WarnLevel
	case "info":
		level = zerolog.InfoLevel
	case "debug":
		level = zerolog.DebugLevel
	case "trace":
		level = zerolog.TraceLevel
	case "":
		level = defaultLevel
	default:
		level = zerolog.TraceLevel
	}

	Logger = Logger.Level(level)
}

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default, it only prints
// info level messages but it can be changed through the LLVL environment
// variable.
var Logger = zerolog.New(logout).Level(defaultLevel).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes the Prometheus collectors created by the components.
// They are registered when the metrics endpoint is enabled.
var PromCollectors []prometheus.Collector
