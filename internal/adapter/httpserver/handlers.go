// Package httpserver contains HTTP handlers and middleware for the
// analysis and reconstruction pipelines' external surface (§6).
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/reconpipeline"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/app/scheduler"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/usecase"
)

// Scheduler is the narrow port Server drives for recon job admission;
// satisfied by internal/app/scheduler.Scheduler.
type Scheduler interface {
	Enqueue(ctx domain.Context, job domain.Job) error
	Position(ctx domain.Context, productID string) int
	Status(ctx domain.Context) (SchedulerStatus, error)
}

// SchedulerStatus is an alias for scheduler.QueueStatus so *scheduler.Scheduler
// satisfies Scheduler above without this package needing its own copy of the
// same fields to drift out of sync.
type SchedulerStatus = scheduler.QueueStatus

// RecordQueuer is the narrow StatusReconciler slice Server needs at
// submission time.
type RecordQueuer interface {
	RecordQueued(ctx domain.Context, productID string, kind domain.JobKind, inputRef string) error
}

// ImageDirFetcher is the narrow ObjectFetcher slice ReconJobsHandler uses to
// pull source images onto local disk before handing off to the Scheduler.
type ImageDirFetcher interface {
	FetchAllToDir(ctx domain.Context, refs []string, destDir string, opts usecase.FetchOptions) (int, error)
}

// Server aggregates the handlers' dependencies (§6).
type Server struct {
	Cfg        config.Config
	Jobs       domain.JobRepository
	Scheduler  Scheduler
	Reconciler RecordQueuer
	Fetcher    ImageDirFetcher
	Analysis   *usecase.AnalysisPipeline
	Describe   *usecase.DescribeProduct
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, jobs domain.JobRepository, scheduler Scheduler, reconciler RecordQueuer, fetcher ImageDirFetcher, analysis *usecase.AnalysisPipeline, describe *usecase.DescribeProduct) *Server {
	return &Server{
		Cfg:        cfg,
		Jobs:       jobs,
		Scheduler:  scheduler,
		Reconciler: reconciler,
		Fetcher:    fetcher,
		Analysis:   analysis,
		Describe:   describe,
	}
}

// FaultDescHandler implements `POST /inspect/fault_desc` (§6). It always
// responds 200 with a ProductVerdict, even when every image failed
// analysis — the only HTTP error path here is request validation (§7).
func (s *Server) FaultDescHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID   string   `json:"product_id"`
			ImageRefs   []string `json:"image_refs"`
			ProductName string   `json:"product_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json: %v", domain.ErrInputInvalid, err), nil)
			return
		}
		if err := ValidateProductID(req.ProductID); err != nil {
			writeError(w, err, nil)
			return
		}
		if len(req.ImageRefs) == 0 {
			writeError(w, fmt.Errorf("%w: image_refs must not be empty", domain.ErrInputInvalid), nil)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 95*time.Second)
		defer cancel()

		verdict, _ := s.Analysis.Run(ctx, req.ProductID, req.ImageRefs)
		writeJSON(w, http.StatusOK, productVerdictResponse(verdict))
	}
}

func productVerdictResponse(v domain.ProductVerdict) map[string]any {
	return map[string]any{
		"condition":        string(v.Condition),
		"price_adjustment": v.PriceAdjustment,
		"total_defects":    v.TotalDefects,
		"markdown":         v.Markdown,
		"completed_at":     v.CompletedAt.Format(time.RFC3339),
		"timed_out":        v.TimedOut,
		"skipped_count":    v.SkippedCount,
		"failed_count":     v.FailedCount,
		"processed_count":  v.ProcessedCount,
		"total_count":      v.TotalCount,
	}
}

// AnalyzeDescHandler implements `POST /inspect/analyze_desc` (§6).
func (s *Server) AnalyzeDescHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageRef    string `json:"image_ref"`
			ProductName string `json:"product_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json: %v", domain.ErrInputInvalid, err), nil)
			return
		}
		if req.ImageRef == "" {
			writeError(w, fmt.Errorf("%w: image_ref is required", domain.ErrInputInvalid), nil)
			return
		}

		description, err := s.Describe.Run(r.Context(), req.ProductName, req.ImageRef)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"description": description})
	}
}

// InspectHealthHandler implements `GET /inspect/health` (§6): a liveness
// probe for the analysis surface, independent of the shared /readyz.
func (s *Server) InspectHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Cfg.VisionModelAPIKey == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "reason": "vision model api key not configured"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReconJobsHandler implements `POST /recon/jobs` (§6): validates the image
// count, records the job as queued, fetches the source images onto local
// disk, and hands the job to the Scheduler. Responds 202 immediately; the
// pipeline itself runs in the background.
func (s *Server) ReconJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID  string   `json:"product_id"`
			S3Images   []string `json:"s3_images"`
			Iterations int      `json:"iterations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json: %v", domain.ErrInputInvalid, err), nil)
			return
		}
		if err := ValidateProductID(req.ProductID); err != nil {
			writeError(w, err, nil)
			return
		}
		if err := ValidateImageCount(len(req.S3Images), s.Cfg.MinImages, s.Cfg.MaxImages); err != nil {
			writeError(w, err, nil)
			return
		}

		ctx := r.Context()
		lg := observability.LoggerFromContext(ctx)

		workDir := filepath.Join(s.Cfg.DataDir, req.ProductID)
		imagesDir := filepath.Join(workDir, "upload", "images")
		if err := os.MkdirAll(imagesDir, 0o755); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
			return
		}

		job := domain.Job{
			ProductID:  req.ProductID,
			Kind:       domain.JobKindRecon,
			Status:     domain.JobQueued,
			Stage:      "queued",
			ImageCount: len(req.S3Images),
			Iterations: req.Iterations,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.Jobs.Create(ctx, job); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
			return
		}
		if err := s.Reconciler.RecordQueued(ctx, req.ProductID, domain.JobKindRecon, req.S3Images[0]); err != nil {
			lg.Warn("recon_jobs: reconciliation record_queued failed", slog.String("product_id", req.ProductID), slog.Any("error", err))
		}

		if _, err := s.Fetcher.FetchAllToDir(ctx, req.S3Images, imagesDir, usecase.FetchOptions{
			MaxEdge:     s.Cfg.MaxImageSize,
			JPEGQuality: s.Cfg.ReconImageJPEGQuality,
		}); err != nil {
			lg.Error("recon_jobs: image fetch failed, failing job before scheduling", slog.String("product_id", req.ProductID), slog.Any("error", err))
			_ = s.Jobs.SetStatus(ctx, req.ProductID, domain.JobFailed, domain.ErrorKindFetchFailed, "fetch", err.Error())
			writeJSON(w, http.StatusAccepted, map[string]string{"product_id": req.ProductID, "status": string(domain.JobQueued)})
			return
		}

		if err := s.Scheduler.Enqueue(ctx, job); err != nil {
			writeError(w, err, nil)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"product_id": req.ProductID, "status": string(domain.JobQueued)})
	}
}

// ReconStatusHandler implements `GET /recon/jobs/{product_id}/status` (§6).
func (s *Server) ReconStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "product_id")
		if err := ValidateProductID(productID); err != nil {
			writeError(w, err, nil)
			return
		}

		job, err := s.Jobs.Get(r.Context(), productID)
		if err != nil {
			writeError(w, err, nil)
			return
		}

		resp := map[string]any{
			"product_id":  job.ProductID,
			"kind":        string(job.Kind),
			"status":      string(job.Status),
			"stage":       job.Stage,
			"progress":    job.Progress,
			"image_count": job.ImageCount,
			"iterations":  job.Iterations,
			"created_at":  job.CreatedAt.Format(time.RFC3339),
		}
		if job.StartedAt != nil {
			resp["started_at"] = job.StartedAt.Format(time.RFC3339)
		}
		if job.CompletedAt != nil {
			resp["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		}
		if job.Status == domain.JobQueued {
			resp["queue_position"] = s.Scheduler.Position(r.Context(), productID)
		}
		if job.Status == domain.JobRunning || job.Terminal() {
			resp["log_tail"] = job.LogTail
		}
		if job.Status == domain.JobFailed {
			resp["error_kind"] = string(job.ErrorKind)
			resp["error_stage"] = job.ErrorStage
			resp["error_message"] = job.ErrorMessage
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ReconQueueHandler implements `GET /recon/queue` (§6).
func (s *Server) ReconQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.Scheduler.Status(r.Context())
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"max_concurrent": status.MaxConcurrent,
			"running_count":  status.RunningCount,
			"pending_count":  status.PendingCount,
			"running_jobs":   status.Running,
			"pending_jobs":   status.Pending,
		})
	}
}

// qualityFallback lists, for each requested quality tier, the file names to
// try in order — light and medium each fall back straight to full, matching
// §6 scenario 6 ("quality=light missing the _light file returns the full file bytes").
var qualityFallback = map[string][]string{
	"light":  {"point_cloud_light.ply", "point_cloud.ply"},
	"medium": {"point_cloud_medium.ply", "point_cloud.ply"},
	"full":   {"point_cloud.ply"},
}

// ReconPLYHandler implements `GET /recon/pub/{product_id}/cloud.ply` (§6).
func (s *Server) ReconPLYHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "product_id")
		if err := ValidateProductID(productID); err != nil {
			writeError(w, err, nil)
			return
		}
		quality, err := ValidateQuality(r.URL.Query().Get("quality"))
		if err != nil {
			writeError(w, err, nil)
			return
		}

		job, err := s.Jobs.Get(r.Context(), productID)
		if err != nil {
			writeError(w, err, nil)
			return
		}

		iterDir := filepath.Join(s.Cfg.DataDir, productID, "output", "point_cloud", fmt.Sprintf("iteration_%d", job.Iterations))
		var path string
		for _, candidate := range qualityFallback[quality] {
			candidatePath := filepath.Join(iterDir, candidate)
			if _, statErr := os.Stat(candidatePath); statErr == nil {
				path = candidatePath
				break
			}
		}
		if path == "" {
			writeError(w, fmt.Errorf("%w: point cloud not available for product %s", domain.ErrNotFound, productID), nil)
			return
		}

		f, err := os.Open(path)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInternal, err), nil)
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="cloud.ply"`)
		_, _ = io.Copy(w, f)
	}
}

// ViewerHandler implements `GET /v/{product_id}` (§6): a redirect to the
// configured viewer with the PLY URL and the first COLMAP camera's position
// (rotated 180°).
func (s *Server) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.redirectToViewer(w, r, false)
	}
}

// ViewerRotateHandler implements `GET /v/rotate/{product_id}` (§6): the
// thumbnail/preview entry point — auto-rotating, non-interactive, camera
// pulled back 6x, medium-quality point cloud for faster loading.
func (s *Server) ViewerRotateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.redirectToViewer(w, r, true)
	}
}

func (s *Server) redirectToViewer(w http.ResponseWriter, r *http.Request, rotate bool) {
	productID := chi.URLParam(r, "product_id")
	if err := ValidateProductID(productID); err != nil {
		writeError(w, err, nil)
		return
	}

	job, err := s.Jobs.Get(r.Context(), productID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if job.Status != domain.JobDone {
		writeError(w, fmt.Errorf("%w: job not completed yet, current status %s", domain.ErrInputInvalid, job.Status), nil)
		return
	}

	lg := observability.LoggerFromContext(r.Context())
	plyURL := fmt.Sprintf("%s/recon/pub/%s/cloud.ply", s.Cfg.ViewerBaseURL, productID)
	sparseDir := filepath.Join(s.Cfg.DataDir, productID, "work", "sparse", "0")
	pos, ok, camErr := reconpipeline.FirstCameraPosition(sparseDir, true)
	if camErr != nil {
		lg.Warn("viewer: failed to read camera position", slog.String("product_id", productID), slog.Any("error", camErr))
	}

	var viewerURL string
	switch {
	case rotate && ok:
		viewerURL = fmt.Sprintf("/viewer/?load=%s&cameraPosition=%.3f,%.3f,%.3f&autoRotate=45&disableInput=true",
			plyURL+"?quality=medium", pos.X*6, pos.Y*6, pos.Z*6)
	case rotate:
		viewerURL = fmt.Sprintf("/viewer/?load=%s&autoRotate=45&disableInput=true", plyURL+"?quality=medium")
	case ok:
		viewerURL = fmt.Sprintf("/viewer/?load=%s&cameraPosition=%.3f,%.3f,%.3f", plyURL, pos.X, pos.Y, pos.Z)
	default:
		viewerURL = fmt.Sprintf("/viewer/?load=%s", plyURL)
	}

	http.Redirect(w, r, viewerURL, http.StatusFound)
}
