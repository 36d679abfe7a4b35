package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

type fakeReconRunner struct {
	artifact   domain.ReconArtifact
	err        error
	lastRoot   string
	lastCalled bool
}

func (f *fakeReconRunner) Run(_ domain.Context, _ string, workDir string, _, _ int) (domain.ReconArtifact, error) {
	f.lastRoot = workDir
	f.lastCalled = true
	return f.artifact, f.err
}

func TestReconPipelineHappyPathMarksJobDone(t *testing.T) {
	jobs := &fakeJobs{}
	reconciler := &fakeReconciler{}
	publisher := &fakePublisher{}
	runner := &fakeReconRunner{artifact: domain.ReconArtifact{PointCount: 1000}}
	p := &ReconPipeline{
		Runner:     runner,
		Jobs:       jobs,
		Reconciler: reconciler,
		Publisher:  publisher,
		DataDir:    "/data",
	}

	err := p.Run(context.Background(), domain.Job{ProductID: "prod-1", ImageCount: 5, Iterations: 7000})
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, jobs.lastStatus)
	assert.Equal(t, 1, reconciler.calls)
	assert.Equal(t, domain.JobDone, reconciler.lastStatus)
	assert.Equal(t, 1, publisher.calls)
}

func TestReconPipelinePassesProductRootNotAWorkSubdirectory(t *testing.T) {
	jobs := &fakeJobs{}
	reconciler := &fakeReconciler{}
	runner := &fakeReconRunner{}
	p := &ReconPipeline{
		Runner:     runner,
		Jobs:       jobs,
		Reconciler: reconciler,
		DataDir:    "/data",
	}

	require.NoError(t, p.Run(context.Background(), domain.Job{ProductID: "prod-root"}))
	require.True(t, runner.lastCalled)
	assert.Equal(t, filepath.Join("/data", "prod-root"), runner.lastRoot)
}

func TestReconPipelineStageFailureMarksJobFailed(t *testing.T) {
	jobs := &fakeJobs{}
	reconciler := &fakeReconciler{}
	stageErr := errors.New("colmap_features exited 1")
	p := &ReconPipeline{
		Runner:     &fakeReconRunner{err: stageErr},
		Jobs:       jobs,
		Reconciler: reconciler,
		DataDir:    "/data",
	}

	err := p.Run(context.Background(), domain.Job{ProductID: "prod-2"})
	require.Error(t, err)
	assert.Equal(t, domain.JobFailed, jobs.lastStatus)
	assert.Equal(t, domain.ErrorKindPipelineStageFailed, jobs.lastErrKind)
	assert.Equal(t, domain.JobFailed, reconciler.lastStatus)
}

func TestReconPipelineInsufficientReconstructionSetsSpecificErrorKind(t *testing.T) {
	jobs := &fakeJobs{}
	reconciler := &fakeReconciler{}
	p := &ReconPipeline{
		Runner:     &fakeReconRunner{err: domain.ErrInsufficientReconstruction},
		Jobs:       jobs,
		Reconciler: reconciler,
		DataDir:    "/data",
	}

	err := p.Run(context.Background(), domain.Job{ProductID: "prod-3"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindInsufficientReconstruction, jobs.lastErrKind)
}
