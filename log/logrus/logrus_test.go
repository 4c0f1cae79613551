package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/imgcache"
)

func TestErrorFieldUsesWithError(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	boom := errors.New("boom")
	l.Error("fill failed", imgcache.Fields{"key": "abc", "err": boom})

	e := hook.LastEntry()
	require.NotNil(t, e)
	assert.Equal(t, logrus.ErrorLevel, e.Level)
	assert.Equal(t, "fill failed", e.Message)
	assert.Equal(t, boom, e.Data[logrus.ErrorKey])
	assert.Equal(t, "abc", e.Data["key"])
	assert.Equal(t, "imgcache", e.Data["component"])
}
