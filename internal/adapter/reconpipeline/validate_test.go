package reconpipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassesAboveThresholds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images.txt"), []byte(
		"1 0 0 0 0 0 0 1 1 a.jpg\n\n2 0 0 0 0 0 0 1 1 b.jpg\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "points3D.txt"), []byte(
		"1 0 0 0 255 255 255 0\n2 0 0 0 255 255 255 0\n"), 0o644))

	result, err := validate(dir, 2, 0.8, 2)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.RegisteredImages)
	assert.Equal(t, 2, result.PointCount)
}

func TestValidateFailsOnLowRegisteredRatio(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images.txt"), []byte(
		"1 0 0 0 0 0 0 1 1 a.jpg\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "points3D.txt"), []byte(
		"1 0 0 0 255 255 255 0\n2 0 0 0 255 255 255 0\n"), 0o644))

	result, err := validate(dir, 10, 0.8, 1)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidateFailsOnLowPointCount(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images.txt"), []byte(
		"1 0 0 0 0 0 0 1 1 a.jpg\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "points3D.txt"), []byte("1 0 0 0 255 255 255 0\n"), 0o644))

	result, err := validate(dir, 1, 0.5, 500)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateMissingFilesTreatedAsZero(t *testing.T) {
	dir := t.TempDir()
	result, err := validate(dir, 5, 0.5, 1)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 0, result.RegisteredImages)
	assert.Equal(t, 0, result.PointCount)
}
