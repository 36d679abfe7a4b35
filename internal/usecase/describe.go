package usecase

import "github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"

// DescribeBackend is the narrow port DescribeProduct drives; satisfied by
// internal/adapter/analyzer.Client.
type DescribeBackend interface {
	Describe(ctx domain.Context, productName string, image []byte, mediaType string) (string, error)
}

// DescribeProduct generates a seller-style product description from a
// single image (the `/inspect/analyze_desc` endpoint's use case, §4.5).
type DescribeProduct struct {
	Fetcher  ImageFetcher
	Analyzer DescribeBackend
	MaxEdge  int
	Quality  int
}

// Run fetches one image ref and asks the analyzer to describe it.
func (d *DescribeProduct) Run(ctx domain.Context, productName, imageRef string) (string, error) {
	fetched, _, err := d.Fetcher.FetchAll(ctx, []string{imageRef}, FetchOptions{MaxEdge: d.MaxEdge, JPEGQuality: d.Quality})
	if err != nil {
		return "", err
	}
	if len(fetched) == 0 {
		return "", domain.ErrFetchFailed
	}
	if fetched[0].Err != nil {
		return "", fetched[0].Err
	}
	return d.Analyzer.Describe(ctx, productName, fetched[0].Bytes, fetched[0].MediaType)
}
