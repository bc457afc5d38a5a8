package services

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerOr returns l, or the global logger when l is nil.
func loggerOr(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		return &log.Logger
	}
	return l
}
