package reconpipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationResult summarizes the colmap_validate stage's pass/fail decision.
type ValidationResult struct {
	RegisteredImages int
	ExpectedImages   int
	PointCount       int
	Valid            bool
	Errors           []string
}

// Summary renders a one-line-per-check report, written into the stage log.
func (r ValidationResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, ">> [COLMAP_VALIDATE] registered=%d/%d points=%d", r.RegisteredImages, r.ExpectedImages, r.PointCount)
	if !r.Valid {
		fmt.Fprintf(&b, " FAILED: %s", strings.Join(r.Errors, "; "))
	}
	return b.String()
}

// validate reads COLMAP's text-format sparse model (images.txt, points3D.txt)
// under sparseDir and checks registered-image ratio and point count against
// configured thresholds (§4.8's "validate stage computes a simple pass/fail
// from a fixed set of thresholds").
func validate(sparseDir string, expectedImages int, minRegisteredPct float64, minPoints int) (ValidationResult, error) {
	registered, err := countRegisteredImages(filepath.Join(sparseDir, "images.txt"))
	if err != nil {
		return ValidationResult{}, err
	}
	points, err := countPoints(filepath.Join(sparseDir, "points3D.txt"))
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{
		RegisteredImages: registered,
		ExpectedImages:   expectedImages,
		PointCount:       points,
		Valid:            true,
	}

	if expectedImages > 0 {
		ratio := float64(registered) / float64(expectedImages)
		if ratio < minRegisteredPct {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("registered image ratio %.2f below threshold %.2f", ratio, minRegisteredPct))
		}
	}
	if points < minPoints {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("point count %d below threshold %d", points, minPoints))
	}

	return result, nil
}

// countRegisteredImages counts the image records in COLMAP's images.txt. Each
// record line is followed by that image's 2D-point list, which is an empty
// line when the image has no observations, so the line after a record is
// passed over whatever it holds; comment lines, and blank lines where a record
// would start, are ignored.
func countRegisteredImages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("op=reconpipeline.validate path=%s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	count := 0
	lineIsRecord := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if lineIsRecord {
			if line == "" {
				continue
			}
			count++
		}
		lineIsRecord = !lineIsRecord
	}
	return count, scanner.Err()
}

// countPoints counts non-comment, non-empty lines in COLMAP's points3D.txt,
// each of which is one reconstructed 3D point.
func countPoints(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("op=reconpipeline.validate path=%s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}
	return count, scanner.Err()
}
