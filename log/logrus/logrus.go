// Package logrus adapts a *logrus.Entry to imgcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/imgcache"
)

var _ imgcache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every entry with component=imgcache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "imgcache")}
}

func (l Logger) entry(f imgcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	if err, ok := f["err"].(error); ok {
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return l.E.WithError(err).WithFields(rest)
	}
	return l.E.WithFields(logrus.Fields(f))
}

func (l Logger) Debug(msg string, f imgcache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f imgcache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f imgcache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f imgcache.Fields) { l.entry(f).Error(msg) }
