package subjects

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aulavoz/backend/internal/middleware"
	"github.com/aulavoz/backend/internal/models"
	"github.com/aulavoz/backend/pkg/response"
)

// CreateRequest is the body for POST /subjects.
type CreateRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// Store is the subject store used by Handler. *Repository implements it.
type Store interface {
	Create(ctx context.Context, s *models.Subject) error
	List(ctx context.Context, userID uuid.UUID) ([]models.Subject, error)
	OwnsSubject(ctx context.Context, userID, subjectID uuid.UUID) (bool, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// LessonIndex lists the lessons of a subject.
type LessonIndex interface {
	IDsBySubject(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error)
}

// FileRemover deletes the stored files of every document in the given lessons.
type FileRemover interface {
	RemoveLessonFiles(ctx context.Context, lessonIDs []uuid.UUID) error
}

// Handler handles subject HTTP endpoints.
type Handler struct {
	store   Store
	lessons LessonIndex
	files   FileRemover
	logger  *zap.Logger
}

// NewHandler creates a subjects handler.
func NewHandler(store Store, lessons LessonIndex, files FileRemover, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, lessons: lessons, files: files, logger: logger}
}

// Create handles POST /subjects.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		response.BadRequest(c, "name is required")
		return
	}
	s := &models.Subject{
		UserID:      c.MustGet(middleware.ContextUserID).(uuid.UUID),
		Name:        name,
		Description: req.Description,
	}
	if err := h.store.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create subject failed", zap.Error(err))
		response.Internal(c, "failed to create subject")
		return
	}
	response.Created(c, s)
}

// List handles GET /subjects.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.store.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list subjects failed", zap.Error(err))
		response.Internal(c, "failed to list subjects")
		return
	}
	response.OK(c, list)
}

// Delete handles DELETE /subjects/:id. Files of every document under the subject are
// removed before the rows.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid subject id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ctx := c.Request.Context()

	owned, err := h.store.OwnsSubject(ctx, userID, id)
	if err != nil {
		h.logger.Error("check subject failed", zap.Error(err))
		response.Internal(c, "failed to delete subject")
		return
	}
	if !owned {
		response.NotFound(c, "subject not found")
		return
	}

	lessonIDs, err := h.lessons.IDsBySubject(ctx, id)
	if err != nil {
		h.logger.Error("list subject lessons failed", zap.Error(err), zap.String("subject_id", id.String()))
		response.Internal(c, "failed to delete subject")
		return
	}
	if err := h.files.RemoveLessonFiles(ctx, lessonIDs); err != nil {
		h.logger.Error("remove subject files failed", zap.Error(err), zap.String("subject_id", id.String()))
		response.Internal(c, "failed to delete subject")
		return
	}
	if err := h.store.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "subject not found")
			return
		}
		h.logger.Error("delete subject failed", zap.Error(err), zap.String("subject_id", id.String()))
		response.Internal(c, "failed to delete subject")
		return
	}
	h.logger.Info("subject deleted", zap.String("subject_id", id.String()), zap.Int("lessons", len(lessonIDs)))
	response.OK(c, gin.H{"id": id})
}
