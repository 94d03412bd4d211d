// Credit ledger HTTP handlers.
//
// This file exposes read endpoints over the billing state:
//   - GET /credits  (current balance plus a page of ledger entries)
//   - GET /jobs     (the subject's job history, newest first)
//
// Both endpoints are scoped to the subject resolved by the identity
// middleware; there is no cross-subject access path.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumapix/go-transform-backend/internal/domain"
	"github.com/lumapix/go-transform-backend/internal/http/middleware"
	"github.com/lumapix/go-transform-backend/internal/repo"
	"github.com/lumapix/go-transform-backend/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// CreditsResponse reports the subject's balance and recent ledger activity.
type CreditsResponse struct {
	Balance      int64                      `json:"balance" example:"7"`
	PlanTier     string                     `json:"plan_tier" example:"free"`
	Transactions []domain.CreditTransaction `json:"transactions"`
	Pagination   Pagination                 `json:"pagination"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	Pagination Pagination   `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginationMeta builds the response metadata for a page.
func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// GetCredits godoc
// @ID          getCredits
// @Summary     Current balance and ledger history
// @Description Returns the subject's credit balance, plan tier, and a page of
// @Description ledger entries, newest first.
// @Tags        Credits
// @Produce     json
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.CreditsResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /credits [get]
func (h *Handlers) GetCredits(c *gin.Context) {
	ctx := c.Request.Context()

	subject := middleware.SubjectFrom(c)
	if subject == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "subject not resolved")
		return
	}

	page, pageSize := clampPagination(c)

	total, err := repo.CountTransactions(ctx, h.ledger.DB, subject.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "ledger lookup failed")
		return
	}
	entries, err := repo.ListTransactionsPage(ctx, h.ledger.DB, subject.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "ledger lookup failed")
		return
	}

	ok(c, http.StatusOK, CreditsResponse{
		Balance:      subject.CreditBalance,
		PlanTier:     subject.PlanTier,
		Transactions: entries,
		Pagination:   paginationMeta(page, pageSize, total),
	})
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List the subject's jobs
// @Description Returns a paginated list of the subject's jobs, newest first.
// @Tags        Processing
// @Produce     json
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListJobsResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	subject := middleware.SubjectFrom(c)
	if subject == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "subject not resolved")
		return
	}

	page, pageSize := clampPagination(c)

	total, err := repo.CountJobs(ctx, h.ledger.DB, subject.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "job lookup failed")
		return
	}
	jobs, err := repo.ListJobsPage(ctx, h.ledger.DB, subject.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "job lookup failed")
		return
	}

	ok(c, http.StatusOK, ListJobsResponse{
		Jobs:       jobs,
		Pagination: paginationMeta(page, pageSize, total),
	})
}
