package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/imgcache"
)

func TestLevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("dropped", imgcache.Fields{"key": "k"})
	l.Error("fill failed", imgcache.Fields{"stage": "network", "key": "abc"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "fill failed", rec["msg"])
	assert.Equal(t, "abc", rec["key"])
	assert.Equal(t, "network", rec["stage"])
}
