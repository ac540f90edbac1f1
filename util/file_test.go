package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPathType(t *testing.T) {
	assert.Equal(t, "S3", GetPathType("s3://bucket/models"))
	assert.Equal(t, "os", GetPathType("/tmp/models"))
	assert.Equal(t, "os", GetPathType("relative/models"))
}

func TestPathJoinSafe(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "c"), PathJoinSafe("a", "b", "c"))
	assert.Equal(t, "s3://bucket"+string(filepath.Separator)+filepath.Join("models", "model.onnx"),
		PathJoinSafe("s3://bucket/", "models", "model.onnx"))
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	writer, err := NewFileWriter(path, "application/json")
	require.NoError(t, err)
	_, err = writer.Write([]byte(`{"winner":"cpu/none"}`))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	payload, err := ReadFileBytes(path)
	require.NoError(t, err)
	assert.Equal(t, `{"winner":"cpu/none"}`, string(payload))

	stats, err := FileStats(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), stats.Size())

	require.NoError(t, DeleteFile(path))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateFileDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "models")
	require.NoError(t, CreateFile(dir, true))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
