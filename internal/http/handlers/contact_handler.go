// Contact form HTTP handler.
//
// POST /contact accepts a JSON payload and persists it. The route sits behind
// the tight contact rate limiter since it is a classic spam target.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumapix/go-transform-backend/internal/http/middleware"
	"github.com/lumapix/go-transform-backend/internal/services"
)

// ContactRequest is the JSON payload for a contact form submission.
type ContactRequest struct {
	Name    string `json:"name" binding:"required,min=1" example:"Ada Lovelace"`
	Email   string `json:"email" binding:"required,email" example:"ada@example.com"`
	Message string `json:"message" binding:"required,min=1" example:"The upscaler produced a blank image for job 42."`
}

// ContactResponse acknowledges a stored submission.
type ContactResponse struct {
	ID string `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// PostContact godoc
// @ID          postContact
// @Summary     Submit a contact message
// @Tags        Contact
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ContactRequest  true  "Contact payload"
//
// @Success     201  {object}  handlers.ContactResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Router      /contact [post]
func (h *Handlers) PostContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, email, and message are required")
		return
	}

	cm, err := h.contact.Submit(c.Request.Context(), req.Name, req.Email, req.Message, c.ClientIP())
	if err != nil {
		if err == services.ErrInvalidInput {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid contact payload")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not store message")
		return
	}

	middleware.LoggerFrom(c).Info().Str("contact_id", cm.ID).Msg("contact message stored")
	ok(c, http.StatusCreated, ContactResponse{ID: cm.ID})
}
