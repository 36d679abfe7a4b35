package objectfetcher

import (
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/usecase"
)

// UsecaseAdapter wraps a Fetcher to satisfy usecase.ImageFetcher and
// httpserver.ImageDirFetcher, both of which declare their own FetchOptions
// type rather than depend on this adapter package directly.
type UsecaseAdapter struct {
	*Fetcher
}

// FetchAll satisfies usecase.ImageFetcher.
func (a UsecaseAdapter) FetchAll(ctx domain.Context, refs []string, opts usecase.FetchOptions) ([]usecase.FetchResult, int, error) {
	results, successes, err := a.Fetcher.FetchAll(ctx, refs, Options{MaxEdge: opts.MaxEdge, JPEGQuality: opts.JPEGQuality})
	if err != nil {
		return nil, successes, err
	}
	out := make([]usecase.FetchResult, len(results))
	for i, r := range results {
		out[i] = usecase.FetchResult{Ref: r.Ref, Bytes: r.Bytes, MediaType: r.MediaType, Err: r.Err}
	}
	return out, successes, nil
}

// FetchAllToDir satisfies httpserver.ImageDirFetcher.
func (a UsecaseAdapter) FetchAllToDir(ctx domain.Context, refs []string, destDir string, opts usecase.FetchOptions) (int, error) {
	return a.Fetcher.FetchAllToDir(ctx, refs, destDir, Options{MaxEdge: opts.MaxEdge, JPEGQuality: opts.JPEGQuality})
}
