package log

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerCached(t *testing.T) {
	l1, err := GetLogger(OutputOff.String(), DebugLevel.String())
	require.NoError(t, err)
	l2, err := GetLogger(OutputOff.String(), DebugLevel.String())
	require.NoError(t, err)
	assert.True(t, l1 == l2, "expecting the same logger from the cache")
	assert.True(t, l1.IsDebug())
	assert.Equal(t, "off", l1.GetLogDest())
}

func TestLogToFileAndReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "mtom-log")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "mtomd.log")

	l, err := GetLogger(dest, InfoLevel.String())
	require.NoError(t, err)
	l.WithContentID("att1@example.com").Info("stored attachment")
	l.Debug("not shown")

	// simulate logrotate
	require.NoError(t, os.Rename(dest, dest+".1"))
	require.NoError(t, l.Reopen())
	l.WithBoundary("XYZ").Warn("after reopen")

	b, err := ioutil.ReadFile(dest + ".1")
	require.NoError(t, err)
	assert.Contains(t, string(b), "content_id=att1@example.com")
	assert.False(t, strings.Contains(string(b), "not shown"))

	b, err = ioutil.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(b), "boundary=XYZ")
}

func TestSetLevel(t *testing.T) {
	l, err := GetLogger(OutputOff.String(), "warning")
	require.NoError(t, err)
	assert.Equal(t, "warning", l.GetLevel())
	l.SetLevel("nonsense")
	assert.Equal(t, "warning", l.GetLevel())
	l.SetLevel("debug")
	assert.True(t, l.IsDebug())
}
