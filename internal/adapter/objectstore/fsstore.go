// Package objectstore provides a domain.ObjectStore backed by a local
// filesystem root. The object store's own implementation is out of scope
// (only its Fetch contract is specified); this adapter resolves
// `s3://bucket/key` and bare `bucket/key` references against a configured
// root directory so the rest of the pipeline can run against a local
// upload area in dev, tests, and single-node deployments without pulling
// in a cloud SDK the spec never asked for.
package objectstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// FSStore resolves object references against Root.
type FSStore struct {
	Root string
}

// New constructs an FSStore rooted at root.
func New(root string) *FSStore {
	return &FSStore{Root: root}
}

// Fetch reads the bytes addressed by ref relative to Root.
func (s *FSStore) Fetch(_ domain.Context, ref string) ([]byte, error) {
	rel := stripScheme(ref)
	path := filepath.Join(s.Root, filepath.FromSlash(rel))
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.Root)) {
		return nil, fmt.Errorf("%w: object reference escapes store root: %s", domain.ErrInputInvalid, ref)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: object not found: %s", domain.ErrFetchFailed, ref)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	return b, nil
}

func stripScheme(ref string) string {
	if idx := strings.Index(ref, "://"); idx >= 0 {
		return ref[idx+3:]
	}
	return ref
}
