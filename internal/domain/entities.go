// Package domain defines core entities, ports, and domain-specific errors
// shared by the defect-analysis and 3D-reconstruction pipelines.
package domain

import (
	"context"
	"errors"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// Error taxonomy (sentinels). Each wraps the classification an ErrorPolicy
// assigns at the point of catch; callers branch on these with errors.Is.
var (
	ErrInputInvalid               = errors.New("input invalid")
	ErrFetchFailed                = errors.New("object fetch failed")
	ErrUpstreamRateLimited        = errors.New("upstream rate limited")
	ErrUpstreamTransient          = errors.New("upstream transient error")
	ErrPipelineStageFailed        = errors.New("pipeline stage failed")
	ErrInsufficientReconstruction = errors.New("insufficient reconstruction")
	ErrTimeout                    = errors.New("timeout")
	ErrShutdown                   = errors.New("shutdown")
	ErrInternal                   = errors.New("internal error")
	ErrNotFound                   = errors.New("not found")
	ErrEmptyResponse              = errors.New("empty or safety-filtered model response")
)

// JobKind distinguishes the two pipelines sharing the orchestrator.
type JobKind string

const (
	JobKindAnalysis JobKind = "analysis"
	JobKindRecon    JobKind = "recon"
)

// JobStatus captures the lifecycle state of a Job. Transitions are monotone:
// queued -> running -> {done, failed}; queued -> failed (shutdown/validation).
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Recon pipeline stage labels, in execution order. Analysis jobs do not use
// these; they complete synchronously within one HTTP request.
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

// StageProgress is the checkpoint percentage a stage reports on entry.
var StageProgress = map[string]int{
	StageColmapFeatures:  15,
	StageColmapMatch:     30,
	StageColmapMap:       45,
	StageColmapUndistort: 55,
	StageColmapValidate:  60,
	StageGSTrain:         65,
	StageExportPLY:       95,
	StageDone:            100,
	StageError:           0,
}

// ErrorKind names the taxonomy buckets an ErrorPolicy classifies a failure
// into. See the Kind column of the component design's error table.
type ErrorKind string

const (
	ErrorKindInputInvalid               ErrorKind = "input_invalid"
	ErrorKindFetchFailed                ErrorKind = "fetch_failed"
	ErrorKindUpstreamRateLimited        ErrorKind = "upstream_rate_limited"
	ErrorKindUpstreamTransient          ErrorKind = "upstream_transient"
	ErrorKindPipelineStageFailed        ErrorKind = "pipeline_stage_failed"
	ErrorKindInsufficientReconstruction ErrorKind = "insufficient_reconstruction"
	ErrorKindTimeout                    ErrorKind = "timeout"
	ErrorKindShutdown                   ErrorKind = "shutdown"
	ErrorKindInternal                   ErrorKind = "internal"
)

// Job is the single source of truth for one pipeline execution, owned
// exclusively by the executor driving it (single-writer invariant).
type Job struct {
	ProductID    string
	Kind         JobKind
	Status       JobStatus
	Stage        string
	Progress     int
	ImageCount   int
	Iterations   int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorKind    ErrorKind
	ErrorStage   string
	ErrorMessage string
	LogTail      []string
}

// Terminal reports whether the job has reached a terminal status.
func (j Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}

// Severity is the closed set of Defect severities.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Defect is a single flaw found in one product image.
type Defect struct {
	Type        string
	Severity    Severity
	Location    string
	Description string
	Confidence  float64
}

// Condition is the closed grade scale, best (S) to worst (D).
type Condition string

const (
	ConditionS Condition = "S"
	ConditionA Condition = "A"
	ConditionB Condition = "B"
	ConditionC Condition = "C"
	ConditionD Condition = "D"
)

// ConditionOrder fixes the ordinal used by the Aggregator's scoring and
// tie-break logic. Iteration must visit S,A,B,C,D in this order so a tie on
// absolute distance resolves to the better (lower-ordinal) grade.
var ConditionOrder = []Condition{ConditionS, ConditionA, ConditionB, ConditionC, ConditionD}

// ConditionOrdinal maps a Condition to its position in ConditionOrder.
var ConditionOrdinal = map[Condition]int{
	ConditionS: 0,
	ConditionA: 1,
	ConditionB: 2,
	ConditionC: 3,
	ConditionD: 4,
}

// ImageVerdict is the AnalyzerClient's per-image judgement. Immutable after
// creation.
type ImageVerdict struct {
	ImageRef        string
	Defects         []Defect
	Condition       Condition
	PriceAdjustment int // in [-50, 0]
	Confidence      float64
	Defaulted       bool // true when this verdict is the parse-failure fallback, not a model answer
}

// ProductVerdict is the Aggregator's output: a single grade, adjustment, and
// rendered markdown for one product. Derived and immutable once emitted.
type ProductVerdict struct {
	Condition       Condition
	PriceAdjustment int
	TotalDefects    int
	Markdown        string
	CompletedAt     time.Time
	TimedOut        bool
	SkippedCount    int
	FailedCount     int
	ProcessedCount  int
	TotalCount      int
}

// ReconArtifact describes where a recon job's outputs live on disk.
type ReconArtifact struct {
	ProductID  string
	WorkDir    string
	Iteration  int
	FullPLY    string
	MediumPLY  string
	LightPLY   string
	PointCount int
}

// JobRepository is the in-process JobStore port: single writer per job,
// multi-reader, transactional writes, consistent-snapshot reads.
type JobRepository interface {
	Create(ctx Context, j Job) error
	SetStage(ctx Context, productID, stage string, progress int) error
	SetStatus(ctx Context, productID string, status JobStatus, errKind ErrorKind, errStage, errMsg string) error
	AppendLogLine(ctx Context, productID, line string) error
	Get(ctx Context, productID string) (Job, error)
	ListPending(ctx Context) ([]Job, error)
	ListRunning(ctx Context) ([]Job, error)
}

// StatusReconciler mirrors terminal job state to the external system-of-record
// and maintains the per-product activation counter (§4.3). Kind selects the
// mirror table (job_3dgs for recon, fault_description for analysis); the
// analysis pipeline has no external "queued" phase of its own, so
// RecordQueued is only ever called for JobKindRecon.
type StatusReconciler interface {
	RecordQueued(ctx Context, productID string, kind JobKind, inputRef string) error
	RecordTerminal(ctx Context, productID string, kind JobKind, status JobStatus, errKind ErrorKind, errMsg string) error
}

// ObjectStore is the narrow fetch port ObjectFetcher drives; only its
// contract is specified, not its implementation (§1 non-goals).
type ObjectStore interface {
	Fetch(ctx Context, ref string) ([]byte, error)
}

// AnalyzerBackend is the narrow vision-model port AnalyzerClient drives.
type AnalyzerBackend interface {
	// Analyze returns the raw response text for a single image, possibly
	// fenced in markdown, for the caller to parse.
	Analyze(ctx Context, image []byte, mediaType, category, systemPrompt string, maxTokens int, temperature float64) (string, error)
	// Describe generates a free-text product description for one image.
	Describe(ctx Context, image []byte, mediaType, productName string) (string, error)
}

// SubprocessRunner is the narrow external-process port ReconPipeline drives
// for each COLMAP / training stage.
type SubprocessRunner interface {
	Run(ctx Context, name string, args []string, dir string, log WriteFlusher) error
}

// WriteFlusher is the minimal sink ReconPipeline's log writer satisfies.
type WriteFlusher interface {
	Write(p []byte) (int, error)
	Flush() error
}

// EventPublisher emits a best-effort terminal-state event after a successful
// reconciliation write. Failures here never affect job state (§5).
type EventPublisher interface {
	PublishTerminal(ctx Context, productID string, kind JobKind, status JobStatus) error
}
