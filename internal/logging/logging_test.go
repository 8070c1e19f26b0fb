package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Prefix(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Printf("hello %d", 1)
	assert.True(t, strings.HasPrefix(buf.String(), Prefix))
	assert.Contains(t, buf.String(), "hello 1")
}

func TestOpen_DefaultFileInDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := Open("", dir)
	require.NoError(t, err)
	logger.Print("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[mailzero] ")
	assert.Contains(t, string(data), "written")
}

func TestOpen_ExplicitPathAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.log")
	for _, msg := range []string{"one", "two"} {
		logger, closer, err := Open(path, "")
		require.NoError(t, err)
		logger.Print(msg)
		require.NoError(t, closer.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestOpen_NoTarget(t *testing.T) {
	logger, closer, err := Open("", "")
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}

func TestOpen_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	logger, closer, err := Open(filepath.Join(blocker, "sub", "x.log"), "")
	assert.Error(t, err)
	assert.NotNil(t, logger)
	assert.NoError(t, closer.Close())
}
