package httpserver

import (
	"fmt"
	"regexp"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

var validProductID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProductID enforces the allowlist every product_id/URL-path
// parameter in this package is checked against.
func ValidateProductID(productID string) error {
	if productID == "" {
		return fmt.Errorf("%w: product_id is required", domain.ErrInputInvalid)
	}
	if len(productID) > 200 {
		return fmt.Errorf("%w: product_id too long (max 200 characters)", domain.ErrInputInvalid)
	}
	if !validProductID.MatchString(productID) {
		return fmt.Errorf("%w: product_id contains invalid characters", domain.ErrInputInvalid)
	}
	return nil
}

// ValidateImageCount enforces §6's `POST /recon/jobs` MIN ≤ len ≤ MAX rule.
func ValidateImageCount(n, min, max int) error {
	if n < min || n > max {
		return fmt.Errorf("%w: image count %d outside allowed range [%d, %d]", domain.ErrInputInvalid, n, min, max)
	}
	return nil
}

// ValidateQuality restricts the `quality` query parameter on the PLY
// streaming endpoint to the three tiers the pipeline produces.
func ValidateQuality(q string) (string, error) {
	switch q {
	case "", "full":
		return "full", nil
	case "light", "medium":
		return q, nil
	default:
		return "", fmt.Errorf("%w: quality must be one of light, medium, full", domain.ErrInputInvalid)
	}
}
