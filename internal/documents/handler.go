package documents

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aulavoz/backend/internal/middleware"
	"github.com/aulavoz/backend/internal/models"
	"github.com/aulavoz/backend/pkg/response"
)

// Handler handles document HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a documents handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Upload handles POST /lessons/:id/documents (multipart: file, description).
func (h *Handler) Upload(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			response.RequestTooLarge(c, "file too large")
			return
		}
		response.BadRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "could not read file")
		return
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		response.BadRequest(c, "could not read file")
		return
	}
	if !mtype.Is("application/pdf") {
		response.BadRequest(c, "only PDF files are accepted")
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		response.Internal(c, "failed to read upload")
		return
	}

	var description *string
	if d := strings.TrimSpace(c.PostForm("description")); d != "" {
		description = &d
	}

	doc, err := h.svc.Upload(c.Request.Context(), userID, lessonID, fh.Filename, description, f)
	if err != nil {
		if errors.Is(err, ErrLessonNotFound) {
			response.NotFound(c, "lesson not found")
			return
		}
		h.logger.Error("upload document failed", zap.Error(err), zap.String("lesson_id", lessonID.String()))
		response.Internal(c, "failed to upload document")
		return
	}
	response.Created(c, doc.ToPublic())
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// List handles GET /lessons/:id/documents.
func (h *Handler) List(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	docs, err := h.svc.List(c.Request.Context(), userID, lessonID)
	if err != nil {
		if errors.Is(err, ErrLessonNotFound) {
			response.NotFound(c, "lesson not found")
			return
		}
		h.logger.Error("list documents failed", zap.Error(err), zap.String("lesson_id", lessonID.String()))
		response.Internal(c, "failed to list documents")
		return
	}
	out := make([]models.DocumentPublic, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].ToPublic())
	}
	response.OK(c, out)
}

// Get handles GET /documents/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	doc, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.fail(c, err, "get document failed")
		return
	}
	response.OK(c, doc.ToPublic())
}

// Regenerate handles POST /documents/:id/regenerate?reset_transcript=true.
func (h *Handler) Regenerate(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	reset := c.Query("reset_transcript") == "true"

	doc, err := h.svc.Regenerate(c.Request.Context(), userID, id, reset)
	if err != nil {
		h.fail(c, err, "regenerate document failed")
		return
	}
	response.Accepted(c, doc.ToPublic())
}

// Audio handles GET /documents/:id/audio. With ?download=true the file is sent as an attachment.
func (h *Handler) Audio(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	doc, path, err := h.svc.AudioFile(c.Request.Context(), userID, id)
	if err != nil {
		h.fail(c, err, "get audio failed")
		return
	}
	c.Header("Content-Type", "audio/mpeg")
	if c.Query("download") == "true" {
		name := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename)) + ".mp3"
		c.FileAttachment(path, name)
		return
	}
	c.File(path)
}

// AudioURL handles GET /documents/:id/audio-url and returns a pre-signed object URL.
func (h *Handler) AudioURL(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	url, err := h.svc.AudioURL(c.Request.Context(), userID, id)
	if err != nil {
		h.fail(c, err, "presign audio failed")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// Delete handles DELETE /documents/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		h.fail(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"id": id})
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid document id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "document not found")
	case errors.Is(err, ErrNoAudio):
		response.NotFound(c, "audio not generated yet")
	case errors.Is(err, ErrNotMirrored):
		response.NotFound(c, "audio not available in object storage")
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("document_id", c.Param("id")))
		response.Internal(c, "internal error")
	}
}
