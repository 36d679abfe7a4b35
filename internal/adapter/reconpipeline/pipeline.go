// Package reconpipeline drives the external COLMAP + point-cloud training
// toolchain as an ordered, cancellable sequence of stages (§4.8).
package reconpipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

// Stage names, exactly as recorded in Job.Stage / Job.ErrorStage (§4.8).
const (
	StageColmapFeatures  = "colmap_features"
	StageColmapMatch     = "colmap_match"
	StageColmapMap       = "colmap_map"
	StageColmapUndistort = "colmap_undistort"
	StageColmapValidate  = "colmap_validate"
	StageGSTrain         = "gs_train"
	StageExportPLY       = "export_ply"
	StageDone            = "done"
	StageError           = "error"
)

var stageProgress = map[string]int{
	StageColmapFeatures:  15,
	StageColmapMatch:     30,
	StageColmapMap:       45,
	StageColmapUndistort: 55,
	StageColmapValidate:  60,
	StageGSTrain:         65,
	StageExportPLY:       95,
	StageDone:            100,
}

// Config bundles everything a Run needs beyond the product-specific inputs.
type Config struct {
	ColmapBinary          string
	GSTrainBinary         string
	ReconMinRegisteredPct float64
	ReconMinPoints        int
	TrainingIterations    int
}

// Pipeline runs one product's reconstruction job end to end, writing
// per-stage progress through JobRepository and an append-only process log.
type Pipeline struct {
	Runner domain.SubprocessRunner
	Jobs   domain.JobRepository
	Cfg    Config
}

// stageError carries which stage failed so Run's caller can record it as
// Job.ErrorStage precisely rather than a single generic label (§4.8).
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("stage=%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Run executes the stage sequence for productID against workDir (which must
// already contain upload/images/*). Iterations overrides Cfg.TrainingIterations
// when positive. Returns the artifact locations on success, or an error
// wrapping stageError identifying the failing stage.
func (p *Pipeline) Run(ctx domain.Context, productID, workDir string, imageCount, iterations int) (domain.ReconArtifact, error) {
	tr := otel.Tracer("reconpipeline.pipeline")
	ctx, span := tr.Start(ctx, "Pipeline.Run")
	defer span.End()

	if iterations <= 0 {
		iterations = p.Cfg.TrainingIterations
	}

	logPath := filepath.Join(workDir, "logs", "process.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return domain.ReconArtifact{}, fmt.Errorf("op=reconpipeline.run: %w", err)
	}
	log, err := OpenFileLog(logPath)
	if err != nil {
		return domain.ReconArtifact{}, fmt.Errorf("op=reconpipeline.run: %w", err)
	}
	defer log.Close()

	artifact := domain.ReconArtifact{ProductID: productID, WorkDir: workDir, Iteration: iterations}

	stages := []func(domain.Context, string, *FileLog, *domain.ReconArtifact) error{
		p.runColmapFeatures,
		p.runColmapMatch,
		p.runColmapMap,
		p.runColmapUndistort,
		func(ctx domain.Context, dir string, log *FileLog, a *domain.ReconArtifact) error {
			return p.runColmapValidate(ctx, dir, log, a, imageCount)
		},
		func(ctx domain.Context, dir string, log *FileLog, a *domain.ReconArtifact) error {
			return p.runGSTrain(ctx, dir, log, a, iterations)
		},
		p.runExportPLY,
	}
	stageNames := []string{
		StageColmapFeatures, StageColmapMatch, StageColmapMap,
		StageColmapUndistort, StageColmapValidate, StageGSTrain, StageExportPLY,
	}

	for i, run := range stages {
		stage := stageNames[i]
		if err := ctx.Err(); err != nil {
			return artifact, &stageError{stage: stage, err: err}
		}
		if err := p.Jobs.SetStage(ctx, productID, stage, stageProgress[stage]); err != nil {
			observability.LoggerFromContext(ctx).Warn("reconpipeline: set_stage failed", slog.String("product_id", productID), slog.Any("error", err))
		}
		_ = log.WriteLine(fmt.Sprintf(">> [%s] starting", stage))
		if err := run(ctx, workDir, log, &artifact); err != nil {
			_ = log.WriteLine(fmt.Sprintf(">> [ERROR] %s: %v", stage, err))
			return artifact, &stageError{stage: stage, err: err}
		}
	}

	_ = p.Jobs.SetStage(ctx, productID, StageDone, stageProgress[StageDone])
	_ = log.WriteLine(fmt.Sprintf(">> [SUCCESS] reconstruction complete: %d points", artifact.PointCount))
	return artifact, nil
}

// StageOf extracts the failing stage name from an error returned by Run, or
// "" if err doesn't wrap a stage failure.
func StageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}

func (p *Pipeline) runColmapFeatures(ctx domain.Context, dir string, log *FileLog, _ *domain.ReconArtifact) error {
	dbPath := filepath.Join(dir, "work", "database.db")
	return p.Runner.Run(ctx, p.Cfg.ColmapBinary, []string{
		"feature_extractor",
		"--database_path", dbPath,
		"--image_path", filepath.Join(dir, "upload", "images"),
	}, dir, log)
}

func (p *Pipeline) runColmapMatch(ctx domain.Context, dir string, log *FileLog, _ *domain.ReconArtifact) error {
	dbPath := filepath.Join(dir, "work", "database.db")
	return p.Runner.Run(ctx, p.Cfg.ColmapBinary, []string{
		"exhaustive_matcher",
		"--database_path", dbPath,
	}, dir, log)
}

func (p *Pipeline) runColmapMap(ctx domain.Context, dir string, log *FileLog, _ *domain.ReconArtifact) error {
	sparseDir := filepath.Join(dir, "work", "sparse")
	return p.Runner.Run(ctx, p.Cfg.ColmapBinary, []string{
		"mapper",
		"--database_path", filepath.Join(dir, "work", "database.db"),
		"--image_path", filepath.Join(dir, "upload", "images"),
		"--output_path", sparseDir,
	}, dir, log)
}

func (p *Pipeline) runColmapUndistort(ctx domain.Context, dir string, log *FileLog, _ *domain.ReconArtifact) error {
	if err := p.Runner.Run(ctx, p.Cfg.ColmapBinary, []string{
		"image_undistorter",
		"--image_path", filepath.Join(dir, "upload", "images"),
		"--input_path", filepath.Join(dir, "work", "sparse", "0"),
		"--output_path", filepath.Join(dir, "work"),
	}, dir, log); err != nil {
		return err
	}
	return p.Runner.Run(ctx, p.Cfg.ColmapBinary, []string{
		"model_converter",
		"--input_path", filepath.Join(dir, "work", "sparse", "0"),
		"--output_path", filepath.Join(dir, "work", "sparse", "0"),
		"--output_type", "TXT",
	}, dir, log)
}

func (p *Pipeline) runColmapValidate(ctx domain.Context, dir string, log *FileLog, _ *domain.ReconArtifact, imageCount int) error {
	sparseDir := filepath.Join(dir, "work", "sparse", "0")
	result, err := validate(sparseDir, imageCount, p.Cfg.ReconMinRegisteredPct, p.Cfg.ReconMinPoints)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	_ = log.WriteLine(result.Summary())
	if !result.Valid {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientReconstruction, result.Summary())
	}
	return nil
}

func (p *Pipeline) runGSTrain(ctx domain.Context, dir string, log *FileLog, artifact *domain.ReconArtifact, iterations int) error {
	outputDir := filepath.Join(dir, "output")
	return p.Runner.Run(ctx, p.Cfg.GSTrainBinary, []string{
		"--source_path", filepath.Join(dir, "work"),
		"--model_path", outputDir,
		"--iterations", fmt.Sprintf("%d", iterations),
	}, dir, log)
}

func (p *Pipeline) runExportPLY(ctx domain.Context, dir string, log *FileLog, artifact *domain.ReconArtifact) error {
	iterDir := filepath.Join(dir, "output", "point_cloud", fmt.Sprintf("iteration_%d", artifact.Iteration))
	fullPath := filepath.Join(iterDir, "point_cloud.ply")
	artifact.FullPLY = fullPath

	count, err := countPLYVertices(fullPath)
	if err != nil {
		return fmt.Errorf("%w: counting vertices: %v", domain.ErrPipelineStageFailed, err)
	}
	artifact.PointCount = count

	mediumPath := filepath.Join(iterDir, "point_cloud_medium.ply")
	if _, err := downsamplePLY(fullPath, mediumPath, 0.20); err != nil {
		return fmt.Errorf("%w: medium downsample: %v", domain.ErrPipelineStageFailed, err)
	}
	artifact.MediumPLY = mediumPath
	_ = log.WriteLine(">> [OPTIMIZE] medium version created")

	lightPath := filepath.Join(iterDir, "point_cloud_light.ply")
	if _, err := downsamplePLY(fullPath, lightPath, 0.05); err != nil {
		return fmt.Errorf("%w: light downsample: %v", domain.ErrPipelineStageFailed, err)
	}
	artifact.LightPLY = lightPath
	_ = log.WriteLine(">> [OPTIMIZE] light version created")

	return nil
}

func countPLYVertices(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	header, err := parsePLYHeader(f)
	if err != nil {
		return 0, err
	}
	return header.vertexCount, nil
}
