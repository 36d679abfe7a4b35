// Package objectfetcher implements domain.ObjectFetcher-shaped fan-out over a
// domain.ObjectStore: parse object references, NFC-normalize their keys,
// fetch concurrently, decode/resize/re-encode as JPEG, and either hand the
// processed bytes back to the caller (analysis) or write them to a stable
// local filename (recon).
package objectfetcher

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoding
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// maxConcurrentFetches bounds in-flight fetches per call regardless of how
// many refs are requested, so one oversized batch can't exhaust file
// descriptors or upstream connections.
const maxConcurrentFetches = 8

// Options controls how a batch of object references is processed.
type Options struct {
	MaxEdge     int // resize so the longer edge is at most this many pixels; 0 disables resizing
	JPEGQuality int // re-encode quality, 1-100
}

// Fetcher fans out over a domain.ObjectStore.
type Fetcher struct {
	store domain.ObjectStore
}

// New constructs a Fetcher backed by the given object store.
func New(store domain.ObjectStore) *Fetcher {
	return &Fetcher{store: store}
}

// Result is the processed form of one object reference.
type Result struct {
	Ref      string
	Bytes    []byte
	MediaType string
	Err      error
}

// FetchAll fetches and processes every ref concurrently (bounded), preserving
// input order in the returned slice regardless of completion order.
func (f *Fetcher) FetchAll(ctx domain.Context, refs []string, opts Options) ([]Result, int, error) {
	results := make([]Result, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			b, mediaType, err := f.fetchOne(gctx, ref, opts)
			results[i] = Result{Ref: ref, Bytes: b, MediaType: mediaType, Err: err}
			return nil // per-ref errors are collected, not fatal to the group
		})
	}
	// errgroup only returns an error from a Go func's return value; none of
	// the funcs above returns one, so Wait returns nil here.
	if err := g.Wait(); err != nil {
		return results, 0, err
	}

	successCount := 0
	var firstErr error
	for _, r := range results {
		if r.Err == nil {
			successCount++
		} else if firstErr == nil {
			firstErr = r.Err
		}
	}
	if successCount == 0 {
		return results, 0, fmt.Errorf("op=objectfetcher.fetch_all refs=%d: %w", len(refs), domain.ErrFetchFailed)
	}
	return results, successCount, nil
}

// FetchAllToDir fetches and processes every ref, writing each to
// destDir/image_NNNN.ext in input order, and returns the success count.
func (f *Fetcher) FetchAllToDir(ctx domain.Context, refs []string, destDir string, opts Options) (int, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("op=objectfetcher.mkdir: %w", err)
	}

	results, successCount, err := f.FetchAll(ctx, refs, opts)
	if err != nil {
		return 0, err
	}

	for i, r := range results {
		if r.Err != nil {
			slog.Warn("objectfetcher: skipping failed ref", slog.String("ref", r.Ref), slog.Any("error", r.Err))
			continue
		}
		ext := extFromRef(r.Ref)
		name := fmt.Sprintf("image_%04d%s", i, ext)
		if err := os.WriteFile(filepath.Join(destDir, name), r.Bytes, 0o644); err != nil {
			return successCount, fmt.Errorf("op=objectfetcher.write ref=%s: %w", r.Ref, err)
		}
	}
	return successCount, nil
}

func (f *Fetcher) fetchOne(ctx domain.Context, ref string, opts Options) ([]byte, string, error) {
	normalized := normalizeRef(ref)

	raw, err := f.store.Fetch(ctx, normalized)
	if err != nil {
		return nil, "", fmt.Errorf("op=objectfetcher.fetch ref=%s: %w", ref, err)
	}

	processed, mediaType := processImage(raw, opts, ref)
	return processed, mediaType, nil
}

// processImage decodes, optionally resizes, and re-encodes raw as JPEG. On
// any decode/resize failure it falls back to the raw bytes, per §4.4.
func processImage(raw []byte, opts Options, ref string) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("objectfetcher: decode failed, using raw bytes", slog.String("ref", ref), slog.Any("error", err))
		return raw, "application/octet-stream"
	}

	if opts.MaxEdge > 0 {
		img = resizeToMaxEdge(img, opts.MaxEdge)
	}

	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = 95
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		slog.Warn("objectfetcher: encode failed, using raw bytes", slog.String("ref", ref), slog.Any("error", err))
		return raw, "application/octet-stream"
	}
	return buf.Bytes(), "image/jpeg"
}

func resizeToMaxEdge(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= maxEdge && height <= maxEdge {
		return src
	}

	ratio := float64(maxEdge) / float64(width)
	if h := float64(maxEdge) / float64(height); h < ratio {
		ratio = h
	}
	newWidth := int(float64(width) * ratio)
	newHeight := int(float64(height) * ratio)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// normalizeRef NFC-normalizes the key portion of a scheme://bucket/key
// reference, leaving the scheme and bucket untouched.
func normalizeRef(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 0 {
		return norm.NFC.String(ref)
	}
	schemeAndBucket := ref[:idx+3]
	rest := ref[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return schemeAndBucket + norm.NFC.String(rest)
	}
	bucket := rest[:slash]
	key := rest[slash+1:]
	return schemeAndBucket + bucket + "/" + norm.NFC.String(key)
}

func extFromRef(ref string) string {
	ext := filepath.Ext(ref)
	if ext == "" {
		return ".jpg"
	}
	return ext
}
