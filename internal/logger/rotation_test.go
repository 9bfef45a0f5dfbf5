package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriterAppends(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(name, 1, 0, false)
	require.NoError(t, err)

	_, err = w.Write([]byte("one\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestRotatingWriterRotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	w, err := NewRotatingWriter(name, 1, 0, true)
	require.NoError(t, err)

	big := []byte(strings.Repeat("x", 1024*1024-10) + "\n")
	_, err = w.Write(big)
	require.NoError(t, err)
	_, err = w.Write([]byte("after rotation\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	gz, err := filepath.Glob(name + ".*.gz")
	require.NoError(t, err)
	assert.Len(t, gz, 1)

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "after rotation\n", string(data))
}

func TestRotatingWriterCleanup(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	old := name + ".20200101-000000.000.gz"
	require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))

	w, err := NewRotatingWriter(name, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}
