package reconpipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePLYFixture(t *testing.T, path string, vertexCount int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	header := "ply\nformat binary_little_endian 1.0\ncomment generated for test\nelement vertex " +
		itoa(vertexCount) + "\nproperty float x\nproperty float y\nproperty float z\nend_header\n"
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(header)
	require.NoError(t, err)
	row := make([]byte, 12)
	for i := 0; i < vertexCount; i++ {
		_, err := f.Write(row)
		require.NoError(t, err)
	}
}

func TestDownsamplePLYKeepsApproximateFraction(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "point_cloud.ply")
	writePLYFixture(t, src, 1000)

	dst := filepath.Join(dir, "point_cloud_medium.ply")
	kept, err := downsamplePLY(src, dst, 0.20)
	require.NoError(t, err)
	assert.Equal(t, 200, kept)

	gotHeader, err := parsePLYHeader(mustOpen(t, dst))
	require.NoError(t, err)
	assert.Equal(t, 200, gotHeader.vertexCount)
}

func TestDownsamplePLYLightFraction(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "point_cloud.ply")
	writePLYFixture(t, src, 1000)

	dst := filepath.Join(dir, "point_cloud_light.ply")
	kept, err := downsamplePLY(src, dst, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 50, kept)
}

func TestDownsamplePLYAlwaysKeepsAtLeastOneVertex(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "point_cloud.ply")
	writePLYFixture(t, src, 3)

	dst := filepath.Join(dir, "point_cloud_light.ply")
	kept, err := downsamplePLY(src, dst, 0.05)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, kept, 1)
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}
