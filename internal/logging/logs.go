// Package logging configures the process-wide zerolog logger and exposes the
// printf-style helpers used across blockgate.
//
// Call sites use the "<pkg>.<Type>.<method> key=value" message shape so log
// lines stay greppable without structured field plumbing at every site.
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger for callers that want structured fields.
func Logger() *zerolog.Logger {
	return &log.Logger
}

func Tracef(format string, args ...any) {
	log.Logger.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	log.Logger.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	log.Logger.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	log.Logger.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	log.Logger.Error().Msgf(format, args...)
}
