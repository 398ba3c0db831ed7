// Package tests has helpers shared by the tests of the other packages
package tests

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempDir makes a directory that is removed when the test finishes
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "mtom-")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

// WriteFile writes content to name under dir and returns the path
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, content, 0644))
	return path
}

// FreeListenInterface returns a localhost address nothing listens on
func FreeListenInterface(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
