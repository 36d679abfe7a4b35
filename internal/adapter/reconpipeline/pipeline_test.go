package reconpipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

type fakeRunner struct {
	fail    map[string]error
	calls   []string
	onRun   func(name string, args []string, dir string)
}

func (r *fakeRunner) Run(_ domain.Context, name string, args []string, dir string, log domain.WriteFlusher) error {
	r.calls = append(r.calls, name)
	if r.onRun != nil {
		r.onRun(name, args, dir)
	}
	if err, ok := r.fail[name+":"+args[0]]; ok {
		return err
	}
	return nil
}

type fakeJobsForPipeline struct {
	stages []string
}

func (f *fakeJobsForPipeline) Create(domain.Context, domain.Job) error { return nil }
func (f *fakeJobsForPipeline) SetStage(_ domain.Context, _, stage string, _ int) error {
	f.stages = append(f.stages, stage)
	return nil
}
func (f *fakeJobsForPipeline) SetStatus(domain.Context, string, domain.JobStatus, domain.ErrorKind, string, string) error {
	return nil
}
func (f *fakeJobsForPipeline) AppendLogLine(domain.Context, string, string) error { return nil }
func (f *fakeJobsForPipeline) Get(domain.Context, string) (domain.Job, error)     { return domain.Job{}, nil }
func (f *fakeJobsForPipeline) ListPending(domain.Context) ([]domain.Job, error)   { return nil, nil }
func (f *fakeJobsForPipeline) ListRunning(domain.Context) ([]domain.Job, error)   { return nil, nil }

func writeSparseModel(t *testing.T, dir string, images, points int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var imagesTxt string
	for i := 0; i < images; i++ {
		imagesTxt += "1 0 0 0 0 0 0 1 1 img.jpg\n\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images.txt"), []byte(imagesTxt), 0o644))

	var pointsTxt string
	for i := 0; i < points; i++ {
		pointsTxt += "1 0 0 0 255 255 255 0\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "points3D.txt"), []byte(pointsTxt), 0o644))
}

func writeFakePLY(t *testing.T, path string, vertexCount int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	header := "ply\nformat binary_little_endian 1.0\nelement vertex " +
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

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestPipelineRunHappyPath(t *testing.T) {
	dir := t.TempDir()
	writeSparseModel(t, filepath.Join(dir, "work", "sparse", "0"), 10, 1000)
	writeFakePLY(t, filepath.Join(dir, "output", "point_cloud", "iteration_100", "point_cloud.ply"), 1000)

	jobs := &fakeJobsForPipeline{}
	p := &Pipeline{
		Runner: &fakeRunner{},
		Jobs:   jobs,
		Cfg:    Config{ColmapBinary: "colmap", GSTrainBinary: "gs_train", ReconMinRegisteredPct: 0.5, ReconMinPoints: 100, TrainingIterations: 100},
	}

	artifact, err := p.Run(context.Background(), "prod-1", dir, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 1000, artifact.PointCount)
	assert.FileExists(t, artifact.MediumPLY)
	assert.FileExists(t, artifact.LightPLY)
	assert.Contains(t, jobs.stages, StageDone)
}

func TestPipelineRunFailsOnInsufficientReconstruction(t *testing.T) {
	dir := t.TempDir()
	writeSparseModel(t, filepath.Join(dir, "work", "sparse", "0"), 2, 10)

	p := &Pipeline{
		Runner: &fakeRunner{},
		Jobs:   &fakeJobsForPipeline{},
		Cfg:    Config{ColmapBinary: "colmap", GSTrainBinary: "gs_train", ReconMinRegisteredPct: 0.8, ReconMinPoints: 500, TrainingIterations: 100},
	}

	_, err := p.Run(context.Background(), "prod-2", dir, 10, 100)
	require.Error(t, err)
	assert.Equal(t, StageColmapValidate, StageOf(err))
	assert.ErrorIs(t, err, domain.ErrInsufficientReconstruction)
}

func TestPipelineRunRecordsFailingStage(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{fail: map[string]error{"colmap:feature_extractor": assertRunnerErr}}
	p := &Pipeline{
		Runner: runner,
		Jobs:   &fakeJobsForPipeline{},
		Cfg:    Config{ColmapBinary: "colmap", GSTrainBinary: "gs_train", ReconMinRegisteredPct: 0.8, ReconMinPoints: 500, TrainingIterations: 100},
	}

	_, err := p.Run(context.Background(), "prod-3", dir, 10, 100)
	require.Error(t, err)
	assert.Equal(t, StageColmapFeatures, StageOf(err))
}

type runnerErr string

func (e runnerErr) Error() string { return string(e) }

var assertRunnerErr = runnerErr("exit status 1")
