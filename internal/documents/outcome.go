package documents

import (
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/models"
	"github.com/aulavoz/backend/pkg/response"
)

// OutcomePayload is the body a worker posts when a document finishes processing.
type OutcomePayload struct {
	DocumentID string `json:"document_id" binding:"required"`
	Status     string `json:"status" binding:"required"`
	Error      string `json:"error"`
}

// OutcomeHandler receives worker outcomes on the request tier.
type OutcomeHandler struct {
	svc    *Service
	token  string
	logger *zap.Logger
}

// NewOutcomeHandler creates an outcome handler. An empty token disables the worker token check.
func NewOutcomeHandler(svc *Service, token string, logger *zap.Logger) *OutcomeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeHandler{svc: svc, token: token, logger: logger}
}

// Receive handles POST /events/pdf-audio. It updates the record's status and publishes the
// matching event when the outcome applies.
func (h *OutcomeHandler) Receive(c *gin.Context) {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(events.TokenHeader)), []byte(h.token)) != 1 {
		response.Unauthorized(c, "invalid worker token")
		return
	}

	var body OutcomePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id, err := uuid.Parse(body.DocumentID)
	if err != nil {
		response.UnprocessableEntity(c, "invalid document_id")
		return
	}
	status := models.DocumentStatus(body.Status)
	if !status.Terminal() {
		response.UnprocessableEntity(c, "invalid status")
		return
	}

	err = h.svc.ApplyOutcome(c.Request.Context(), events.Outcome{DocumentID: id, Status: status, Error: body.Error})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "document not found")
		return
	case errors.Is(err, ErrTransitionRejected):
		h.logger.Warn("stale outcome rejected", zap.String("document_id", id.String()), zap.String("status", body.Status))
		response.Conflict(c, "status transition not allowed")
		return
	default:
		h.logger.Error("apply outcome failed", zap.Error(err), zap.String("document_id", id.String()))
		response.Internal(c, "failed to apply outcome")
		return
	}
	response.OK(c, gin.H{"document_id": id, "status": status})
}
