// Transformation HTTP handlers.
//
// This file exposes the processing endpoints:
//   - POST   /process        (upload one artifact, reserve credits, dispatch)
//   - GET    /process/{id}   (poll job state, advances it against the provider)
//   - DELETE /process/{id}   (cancel an in-flight job, refunding its credits)
//   - POST   /process/batch  (upload several artifacts, fan out, wait for all)
//
// Handlers are transport-thin: they validate and normalize inputs, delegate to
// the application services, and map service sentinels to the HTTP error
// taxonomy.
//
// Idempotency:
// POST /process is guarded by a content-derived key (subject + kind + payload
// hash). A retry carrying the same artifact while the first attempt is still
// in flight gets 409; a retry after completion replays the recorded response
// with `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumapix/go-transform-backend/internal/domain"
	"github.com/lumapix/go-transform-backend/internal/http/middleware"
	"github.com/lumapix/go-transform-backend/internal/idempotency"
	"github.com/lumapix/go-transform-backend/internal/services"
)

//
// Handler wiring
//

// JobPipeline is the single-artifact contract the handlers depend on.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation.
type JobPipeline interface {
	Submit(ctx context.Context, subject *domain.Subject, kind, filename string, data []byte) (*services.SubmitOutcome, error)
	Get(ctx context.Context, subjectID, jobID string) (*domain.Job, error)
	Poll(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Cancel(ctx context.Context, subjectID, jobID string) (*domain.Job, error)
}

// BatchPipeline is the multi-artifact contract.
type BatchPipeline interface {
	RunBatch(ctx context.Context, subject *domain.Subject, kind string, items []services.BatchItem, progress services.ProgressFunc) ([]services.BatchResult, error)
}

// Handlers groups the HTTP endpoints for processing, credits, and contact.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	jobs    JobPipeline
	batch   BatchPipeline
	ledger  *services.LedgerService
	guard   *idempotency.Guard
	contact *services.ContactService
}

// New constructs a Handlers instance bound to the given services. guard may
// be nil, in which case duplicate submissions are not deduplicated.
func New(jobs JobPipeline, batch BatchPipeline, ledger *services.LedgerService, guard *idempotency.Guard, contact *services.ContactService) *Handlers {
	return &Handlers{jobs: jobs, batch: batch, ledger: ledger, guard: guard, contact: contact}
}

//
// DTOs
//

// ProcessResponse is the envelope for a submitted or polled job.
type ProcessResponse struct {
	JobID  string `json:"job_id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Status string `json:"status" example:"processing"`
	// ResultURL is set once the job completes.
	ResultURL *string `json:"result_url,omitempty"`
	// Error is the failure reason for failed jobs.
	Error string `json:"error,omitempty"`
	// CreditsRemaining is included on submission responses.
	CreditsRemaining *int64 `json:"credits_remaining,omitempty" example:"9"`
}

// BatchResponse aggregates per-item outcomes of a batch run.
type BatchResponse struct {
	Results   []services.BatchResult `json:"results"`
	Completed int                    `json:"completed"`
	Failed    int                    `json:"failed"`
	Total     int                    `json:"total"`
}

//
// Helpers
//

// readUpload drains one multipart file into memory. The router caps the whole
// request body, so reading fully here is bounded.
func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// failUpload maps an upload read error: bodies truncated at the router's cap
// get 413, everything else 400. The multipart reader does not always wrap the
// cap error, hence the message check.
func failUpload(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
			"request body exceeds the upload limit")
		return
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

// cachedSubmit records the first response to an idempotent submission so a
// replay is byte-and-status identical.
type cachedSubmit struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// jobView maps a job row to its public envelope.
func jobView(job *domain.Job) ProcessResponse {
	resp := ProcessResponse{JobID: job.ID, Status: job.Status}
	if job.Status == domain.JobStatusCompleted {
		resp.ResultURL = job.ResultURL
	}
	if job.Status == domain.JobStatusFailed {
		resp.Error = job.FailureReason
	}
	return resp
}

//
// Handlers
//

// PostProcess godoc
// @ID          postProcess
// @Summary     Submit an image for transformation
// @Description Stages the upload, reserves credits, and dispatches the job to
// @Description the provider. Retries with an identical payload replay the
// @Description first response instead of charging again.
// @Tags        Processing
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       image  formData  file    true  "Image to transform"
// @Param       type   formData  string  true  "Transformation kind"  Enums(bg_removal, upscale, face_swap)
//
// @Success     202  {object}  handlers.ProcessResponse  "Job accepted"
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse    "Insufficient credits"
// @Failure     409  {object}  handlers.ErrorResponse    "Duplicate in flight"
// @Failure     422  {object}  handlers.ErrorResponse    "Provider rejected the image"
// @Failure     503  {object}  handlers.ErrorResponse    "Provider unavailable"
// @Router      /process [post]
func (h *Handlers) PostProcess(c *gin.Context) {
	ctx := c.Request.Context()

	subject := middleware.SubjectFrom(c)
	if subject == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "subject not resolved")
		return
	}

	kind := strings.TrimSpace(c.PostForm("type"))
	if kind == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type required")
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		failUpload(c, err, "image file required")
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		failUpload(c, err, "image file unreadable")
		return
	}
	if len(data) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image file unreadable")
		return
	}

	// Duplicate suppression keyed by what the caller actually sent.
	key := idempotency.KeyFromContent(subject.ID, "process:"+kind, data)
	begin := h.guard.Begin(ctx, key)
	switch begin.State {
	case idempotency.StateCompleted:
		c.Header("Idempotency-Replayed", "true")
		var cached cachedSubmit
		if err := json.Unmarshal([]byte(begin.CachedResult), &cached); err == nil && cached.Status != 0 {
			c.Data(cached.Status, "application/json", cached.Body)
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(begin.CachedResult))
		return
	case idempotency.StateProcessing:
		fail(c, http.StatusConflict, ErrCodeDuplicateInFlight, "an identical request is already in flight")
		return
	}

	outcome, err := h.jobs.Submit(ctx, subject, kind, fh.Filename, data)
	if err != nil {
		h.guard.Release(ctx, key)
		switch err {
		case services.ErrInvalidInput:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unsupported type or oversized image")
		case services.ErrInsufficientCredits:
			var balance int64
			if outcome != nil {
				balance = outcome.BalanceAfter
			}
			failWithBalance(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits,
				"not enough credits for this operation", balance)
		case services.ErrUpstreamRejected:
			fail(c, http.StatusUnprocessableEntity, ErrCodeUpstreamRejected, "provider rejected the image")
		case services.ErrUpstreamUnavailable:
			fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "provider unavailable, credits refunded")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "submission failed")
		}
		return
	}

	resp := jobView(outcome.Job)
	resp.CreditsRemaining = &outcome.BalanceAfter

	// Record the response so an identical retry replays instead of re-charging.
	if buf, merr := json.Marshal(resp); merr == nil {
		if rec, rerr := json.Marshal(cachedSubmit{Status: http.StatusAccepted, Body: buf}); rerr == nil {
			h.guard.Complete(ctx, key, string(rec))
		}
	}

	middleware.LoggerFrom(c).Info().
		Str("job_id", outcome.Job.ID).
		Str("kind", kind).
		Int64("credits_remaining", outcome.BalanceAfter).
		Msg("job submitted")

	ok(c, http.StatusAccepted, resp)
}

// GetProcess godoc
// @ID          getProcess
// @Summary     Poll a job's state
// @Description Returns the job's current state. Non-terminal jobs are advanced
// @Description against the provider before responding; a failed provider run
// @Description refunds the reserved credits exactly once.
// @Tags        Processing
// @Produce     json
//
// @Param       id  path  string  true  "Job ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.ProcessResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Router      /process/{id} [get]
func (h *Handlers) GetProcess(c *gin.Context) {
	ctx := c.Request.Context()

	subject := middleware.SubjectFrom(c)
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	job, err := h.jobs.Get(ctx, subject.ID, jobID)
	if err != nil {
		if err == services.ErrJobNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "lookup failed")
		return
	}

	if !job.Terminal() {
		// A provider outage keeps the job waiting rather than failing it; the
		// caller just sees the unchanged state.
		if advanced, perr := h.jobs.Poll(ctx, job); perr == nil || perr == services.ErrUpstreamUnavailable {
			if advanced != nil {
				job = advanced
			}
		}
	}

	ok(c, http.StatusOK, jobView(job))
}

// CancelProcess godoc
// @ID          cancelProcess
// @Summary     Cancel an in-flight job
// @Description Marks a pending or processing job failed and refunds its
// @Description credits. Terminal jobs are returned unchanged.
// @Tags        Processing
// @Produce     json
//
// @Param       id  path  string  true  "Job ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.ProcessResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Router      /process/{id} [delete]
func (h *Handlers) CancelProcess(c *gin.Context) {
	ctx := c.Request.Context()

	subject := middleware.SubjectFrom(c)
	jobID := c.Param("id")
	if _, err := uuid.Parse(jobID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}

	job, err := h.jobs.Cancel(ctx, subject.ID, jobID)
	if err != nil {
		if err == services.ErrJobNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "cancel failed")
		return
	}

	ok(c, http.StatusOK, jobView(job))
}

// PostBatch godoc
// @ID          postBatch
// @Summary     Transform several images in one request
// @Description Runs every artifact through the full pipeline with bounded
// @Description concurrency and waits for all of them. One item failing does
// @Description not abort its siblings.
// @Tags        Processing
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       images  formData  file    true  "Images to transform (repeatable)"
// @Param       type    formData  string  true  "Transformation kind"  Enums(bg_removal, upscale, face_swap)
//
// @Success     200  {object}  handlers.BatchResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     413  {object}  handlers.ErrorResponse  "Batch exceeds plan limit"
// @Router      /process/batch [post]
func (h *Handlers) PostBatch(c *gin.Context) {
	ctx := c.Request.Context()

	subject := middleware.SubjectFrom(c)
	if subject == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "subject not resolved")
		return
	}

	kind := strings.TrimSpace(c.PostForm("type"))
	if kind == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type required")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		failUpload(c, err, "multipart form required")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at least one image required")
		return
	}

	items := make([]services.BatchItem, 0, len(files))
	for _, fh := range files {
		data, rerr := readUpload(fh)
		if rerr != nil {
			failUpload(c, rerr, "image file unreadable: "+fh.Filename)
			return
		}
		items = append(items, services.BatchItem{Name: fh.Filename, Data: data})
	}

	lg := middleware.LoggerFrom(c)
	progress := func(done, total int) {
		lg.Debug().Int("done", done).Int("total", total).Msg("batch progress")
	}

	results, err := h.batch.RunBatch(ctx, subject, kind, items, progress)
	if err != nil {
		switch err {
		case services.ErrInvalidInput:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid batch request")
		case services.ErrBatchTooLarge:
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeBatchTooLarge, "batch exceeds the plan's size limit")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "batch failed")
		}
		return
	}

	resp := BatchResponse{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Status == services.BatchItemComplete {
			resp.Completed++
		} else {
			resp.Failed++
		}
	}

	ok(c, http.StatusOK, resp)
}
