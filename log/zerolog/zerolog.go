// Package zerolog adapts a zerolog.Logger to imgcache.Logger.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/imgcache"
)

var _ imgcache.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

// New tags every event with component=imgcache.
func New(l zerolog.Logger) Logger {
	return Logger{L: l.With().Str("component", "imgcache").Logger()}
}

func (z Logger) Debug(msg string, f imgcache.Fields) { emit(z.L.Debug(), msg, f) }
func (z Logger) Info(msg string, f imgcache.Fields)  { emit(z.L.Info(), msg, f) }
func (z Logger) Warn(msg string, f imgcache.Fields)  { emit(z.L.Warn(), msg, f) }
func (z Logger) Error(msg string, f imgcache.Fields) { emit(z.L.Error(), msg, f) }

// emit is a no-op for disabled levels; zerolog returns a nil event then.
func emit(e *zerolog.Event, msg string, f imgcache.Fields) {
	if e == nil {
		return
	}
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.Err(err)
			continue
		}
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}
