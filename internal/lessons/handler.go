package lessons

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

// CreateRequest is the body for POST /lessons.
type CreateRequest struct {
	SubjectID   string  `json:"subject_id" binding:"required"`
	Title       string  `json:"title" binding:"required"`
	Description *string `json:"description"`
}

// Store is the lesson store used by Handler. *Repository implements it.
type Store interface {
	Create(ctx context.Context, l *models.Lesson) error
	List(ctx context.Context, userID uuid.UUID) ([]models.Lesson, error)
	ListBySubject(ctx context.Context, userID, subjectID uuid.UUID) ([]models.Lesson, error)
	OwnsLesson(ctx context.Context, userID, lessonID uuid.UUID) (bool, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// SubjectOwnership checks that a subject belongs to a user.
type SubjectOwnership interface {
	OwnsSubject(ctx context.Context, userID, subjectID uuid.UUID) (bool, error)
}

// FileRemover deletes the stored files of every document in the given lessons.
type FileRemover interface {
	RemoveLessonFiles(ctx context.Context, lessonIDs []uuid.UUID) error
}

// Handler handles lesson HTTP endpoints.
type Handler struct {
	store    Store
	subjects SubjectOwnership
	files    FileRemover
	logger   *zap.Logger
}

// NewHandler creates a lessons handler.
func NewHandler(store Store, subjects SubjectOwnership, files FileRemover, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, subjects: subjects, files: files, logger: logger}
}

// Create handles POST /lessons.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		response.BadRequest(c, "invalid subject_id")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		response.BadRequest(c, "title is required")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	owned, err := h.subjects.OwnsSubject(c.Request.Context(), userID, subjectID)
	if err != nil {
		h.logger.Error("check subject failed", zap.Error(err))
		response.Internal(c, "failed to create lesson")
		return
	}
	if !owned {
		response.NotFound(c, "subject not found")
		return
	}

	l := &models.Lesson{UserID: userID, SubjectID: subjectID, Title: title, Description: req.Description}
	if err := h.store.Create(c.Request.Context(), l); err != nil {
		h.logger.Error("create lesson failed", zap.Error(err))
		response.Internal(c, "failed to create lesson")
		return
	}
	response.Created(c, l)
}

// List handles GET /lessons.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.store.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list lessons failed", zap.Error(err))
		response.Internal(c, "failed to list lessons")
		return
	}
	response.OK(c, list)
}

// ListBySubject handles GET /subjects/:id/lessons.
func (h *Handler) ListBySubject(c *gin.Context) {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid subject id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	owned, err := h.subjects.OwnsSubject(c.Request.Context(), userID, subjectID)
	if err != nil {
		h.logger.Error("check subject failed", zap.Error(err))
		response.Internal(c, "failed to list lessons")
		return
	}
	if !owned {
		response.NotFound(c, "subject not found")
		return
	}
	list, err := h.store.ListBySubject(c.Request.Context(), userID, subjectID)
	if err != nil {
		h.logger.Error("list lessons failed", zap.Error(err), zap.String("subject_id", subjectID.String()))
		response.Internal(c, "failed to list lessons")
		return
	}
	response.OK(c, list)
}

// Delete handles DELETE /lessons/:id, removing document files before the rows.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ctx := c.Request.Context()

	owned, err := h.store.OwnsLesson(ctx, userID, id)
	if err != nil {
		h.logger.Error("check lesson failed", zap.Error(err))
		response.Internal(c, "failed to delete lesson")
		return
	}
	if !owned {
		response.NotFound(c, "lesson not found")
		return
	}
	if err := h.files.RemoveLessonFiles(ctx, []uuid.UUID{id}); err != nil {
		h.logger.Error("remove lesson files failed", zap.Error(err), zap.String("lesson_id", id.String()))
		response.Internal(c, "failed to delete lesson")
		return
	}
	if err := h.store.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "lesson not found")
			return
		}
		h.logger.Error("delete lesson failed", zap.Error(err), zap.String("lesson_id", id.String()))
		response.Internal(c, "failed to delete lesson")
		return
	}
	h.logger.Info("lesson deleted", zap.String("lesson_id", id.String()))
	response.OK(c, gin.H{"id": id})
}
