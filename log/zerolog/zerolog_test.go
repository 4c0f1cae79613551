package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/imgcache"
)

func TestFieldsAreForwarded(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Warn("disk tier disabled", imgcache.Fields{"dir": "/tmp/x", "err": errors.New("full")})
	l.Debug("filtered", imgcache.Fields{"key": "k"})
	l.Info("no fields", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "imgcache", first["component"])
	assert.Equal(t, "/tmp/x", first["dir"])
	assert.Equal(t, "full", first[zerolog.ErrorFieldName])
	assert.Equal(t, "disk tier disabled", first["message"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "no fields", second["message"])
}
