// Package services – BatchService
//
// This file implements the batch orchestrator: many submit+poll pipelines run
// under one fixed-width worker pool, with per-item failure isolation and
// incremental progress reporting. Credit accounting is per item through the
// same ledger contract, so a partially failed batch leaves the ledger correct
// without any batch-level transaction.
package services

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumapix/go-transform-backend/internal/domain"
)

// Batch item statuses.
const (
	BatchItemComplete = "complete"
	BatchItemError    = "error"
)

// BatchItem is one artifact in a batch request.
type BatchItem struct {
	Name string
	Data []byte
}

// BatchResult is the per-item outcome. Exactly one of ResultURL or Error is
// meaningful, selected by Status.
type BatchResult struct {
	Item      string  `json:"item"`
	Status    string  `json:"status"`
	JobID     string  `json:"job_id,omitempty"`
	ResultURL *string `json:"result_url,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ProgressFunc receives (done, total) after every finished item, so a caller
// can render live status. It may be nil. Implementations must be fast; the
// orchestrator calls it from worker goroutines.
type ProgressFunc func(done, total int)

// BatchService fans a batch out over a bounded pool of pipelines.
type BatchService struct {
	Jobs *JobService

	// Concurrency is the fixed pool width: how many submit+poll pipelines
	// run at once, bounding pressure on the Transform Service.
	Concurrency int
}

// RunBatch processes all items for the subject and returns one result per
// item, in input order. One item's failure never aborts its siblings; the
// error is captured in that item's result. The batch size is capped by the
// subject's plan before any work starts.
func (s *BatchService) RunBatch(ctx context.Context, subject *domain.Subject, kind string, items []BatchItem, progress ProgressFunc) ([]BatchResult, error) {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "RunBatch",
		trace.WithAttributes(
			attribute.String("subject.id", subject.ID),
			attribute.String("job.kind", kind),
			attribute.Int("batch.size", len(items)),
		),
	)
	defer span.End()

	if len(items) == 0 {
		return nil, ErrInvalidInput
	}
	if len(items) > s.Jobs.Plan(subject.PlanTier).MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	width := s.Concurrency
	if width < 1 {
		width = 1
	}

	results := make([]BatchResult, len(items))
	var done atomic.Int64

	sem := make(chan struct{}, width)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = s.runItem(ctx, subject, kind, item)

			if progress != nil {
				progress(int(done.Add(1)), len(items))
			}
		}(i, item)
	}
	wg.Wait()

	return results, nil
}

// runItem executes one submit+poll pipeline and converts any failure into an
// error result for that item only.
func (s *BatchService) runItem(ctx context.Context, subject *domain.Subject, kind string, item BatchItem) BatchResult {
	res := BatchResult{Item: item.Name}

	out, err := s.Jobs.Submit(ctx, subject, kind, item.Name, item.Data)
	if err != nil {
		res.Status = BatchItemError
		res.Error = err.Error()
		if out != nil && out.Job != nil {
			res.JobID = out.Job.ID
		}
		return res
	}
	res.JobID = out.Job.ID

	job, err := s.Jobs.WaitForResult(ctx, out.Job)
	if err != nil {
		res.Status = BatchItemError
		res.Error = err.Error()
		if job != nil {
			res.JobID = job.ID
		}
		return res
	}

	res.Status = BatchItemComplete
	res.ResultURL = job.ResultURL
	return res
}
