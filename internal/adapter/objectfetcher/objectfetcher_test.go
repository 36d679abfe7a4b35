package objectfetcher

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	errs    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[ref]; ok {
		return nil, err
	}
	b, ok := f.objects[ref]
	if !ok {
		return nil, errors.New("not found: " + ref)
	}
	return b, nil
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFetchAllSucceedsAndPreservesOrder(t *testing.T) {
	store := newFakeStore()
	store.objects["s3://bucket/a.jpg"] = testJPEG(t, 100, 50)
	store.objects["s3://bucket/b.jpg"] = testJPEG(t, 50, 100)

	f := New(store)
	results, successCount, err := f.FetchAll(context.Background(), []string{"s3://bucket/a.jpg", "s3://bucket/b.jpg"}, Options{MaxEdge: 1600, JPEGQuality: 90})
	require.NoError(t, err)
	assert.Equal(t, 2, successCount)
	assert.Equal(t, "s3://bucket/a.jpg", results[0].Ref)
	assert.Equal(t, "s3://bucket/b.jpg", results[1].Ref)
	assert.Equal(t, "image/jpeg", results[0].MediaType)
}

func TestFetchAllResizesOversizedImage(t *testing.T) {
	store := newFakeStore()
	store.objects["s3://bucket/big.jpg"] = testJPEG(t, 2000, 1000)

	f := New(store)
	results, successCount, err := f.FetchAll(context.Background(), []string{"s3://bucket/big.jpg"}, Options{MaxEdge: 500, JPEGQuality: 90})
	require.NoError(t, err)
	require.Equal(t, 1, successCount)

	img, _, err := image.Decode(bytes.NewReader(results[0].Bytes))
	require.NoError(t, err)
	b := img.Bounds()
	assert.LessOrEqual(t, b.Dx(), 500)
	assert.LessOrEqual(t, b.Dy(), 500)
}

func TestFetchAllZeroSuccessesIsFatal(t *testing.T) {
	store := newFakeStore()
	f := New(store)

	_, successCount, err := f.FetchAll(context.Background(), []string{"s3://bucket/missing.jpg"}, Options{})
	assert.Equal(t, 0, successCount)
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
}

func TestFetchAllPartialFailureStillSucceeds(t *testing.T) {
	store := newFakeStore()
	store.objects["s3://bucket/ok.jpg"] = testJPEG(t, 100, 100)

	f := New(store)
	results, successCount, err := f.FetchAll(context.Background(), []string{"s3://bucket/ok.jpg", "s3://bucket/missing.jpg"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, successCount)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestFetchAllToDirWritesStableFilenames(t *testing.T) {
	store := newFakeStore()
	store.objects["s3://bucket/a.jpg"] = testJPEG(t, 64, 64)
	store.objects["s3://bucket/b.jpg"] = testJPEG(t, 64, 64)

	dir := t.TempDir()
	f := New(store)
	successCount, err := f.FetchAllToDir(context.Background(), []string{"s3://bucket/a.jpg", "s3://bucket/b.jpg"}, dir, Options{MaxEdge: 1600, JPEGQuality: 85})
	require.NoError(t, err)
	assert.Equal(t, 2, successCount)

	for _, name := range []string{"image_0000.jpg", "image_0001.jpg"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, "expected %s to exist", name)
	}
}

func TestNormalizeRefPreservesSchemeAndBucket(t *testing.T) {
	got := normalizeRef("s3://bucket/path/to/key.jpg")
	assert.Equal(t, "s3://bucket/path/to/key.jpg", got)
}

func TestNormalizeRefNoSchemeNormalizesWholeString(t *testing.T) {
	got := normalizeRef("plain-key")
	assert.Equal(t, "plain-key", got)
}
