// Package zap adapts a *zap.Logger to imgcache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/imgcache"
)

var _ imgcache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "imgcache".
func New(l *zap.Logger) Logger { return Logger{L: l.Named("imgcache")} }

func (z Logger) Debug(msg string, f imgcache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f imgcache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f imgcache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f imgcache.Fields) { z.L.Error(msg, fields(f)...) }

// fields emits keys in sorted order; errors keep zap's error encoding.
func fields(f imgcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
