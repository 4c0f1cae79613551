package zap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/imgcache"
)

func TestFieldsAreForwarded(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("disk tier disabled", imgcache.Fields{"dir": "/tmp/x", "err": errors.New("full")})
	l.Debug("no fields", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "imgcache", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "/tmp/x", ctx["dir"])
	assert.Equal(t, "full", ctx["err"])
	assert.Empty(t, entries[1].Context)
}
