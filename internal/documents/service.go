package documents

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/models"
	"github.com/aulavoz/backend/pkg/storage"
)

// Failure reasons stored on the record and sent to clients.
const (
	ReasonEnqueueFailed = "falha ao enfileirar processamento"
)

var (
	// ErrLessonNotFound is returned when the target lesson does not exist or is not owned by the caller.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrNoAudio is returned when a document has no generated audio to serve.
	ErrNoAudio = errors.New("audio not available")
	// ErrNotMirrored is returned when a document's audio was not mirrored to object storage.
	ErrNotMirrored = errors.New("audio not mirrored")
	// ErrInvalidOutcome is returned for outcomes without a document id or terminal status.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// Store is the record store used by Service. *Repository implements it.
type Store interface {
	Create(ctx context.Context, d *models.Document) error
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Document, error)
	ListByLesson(ctx context.Context, userID, lessonID uuid.UUID) ([]models.Document, error)
	ListByLessonIDs(ctx context.Context, lessonIDs []uuid.UUID) ([]models.Document, error)
	SetStoragePath(ctx context.Context, id uuid.UUID, path string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ApplyOutcome(ctx context.Context, id uuid.UUID, status models.DocumentStatus, reason *string) (*models.Document, error)
	ResetForRegenerate(ctx context.Context, id, userID uuid.UUID, resetTranscript bool) (*models.Document, error)
	Delete(ctx context.Context, id, userID uuid.UUID) (*models.Document, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// JobQueue dispatches processing jobs. *queue.Queue implements it.
type JobQueue interface {
	EnqueueDocument(ctx context.Context, documentID uuid.UUID) error
}

// LessonOwnership checks that a lesson belongs to a user.
type LessonOwnership interface {
	OwnsLesson(ctx context.Context, userID, lessonID uuid.UUID) (bool, error)
}

// AudioObjects is the optional object storage holding mirrored audio. *storage.S3 implements it.
type AudioObjects interface {
	PresignedAudioURL(ctx context.Context, key string) (string, error)
	DeleteAudio(ctx context.Context, key string) error
}

// Service implements document upload, regeneration, retrieval and deletion, and applies
// worker outcomes.
type Service struct {
	store     Store
	queue     JobQueue
	lessons   LessonOwnership
	layout    *storage.Layout
	objects   AudioObjects
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService creates a documents service. objects may be nil when no bucket is configured.
func NewService(store Store, q JobQueue, lessons LessonOwnership, layout *storage.Layout, objects AudioObjects, publisher events.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		queue:     q,
		lessons:   lessons,
		layout:    layout,
		objects:   objects,
		publisher: publisher,
		logger:    logger,
	}
}

// Upload creates the placeholder record, writes the file and enqueues processing. Once the
// record and file exist the upload succeeds; a failed enqueue leaves the record in erro.
func (s *Service) Upload(ctx context.Context, userID, lessonID uuid.UUID, filename string, description *string, file io.Reader) (*models.Document, error) {
	owned, err := s.lessons.OwnsLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("check lesson: %w", err)
	}
	if !owned {
		return nil, ErrLessonNotFound
	}

	doc := &models.Document{
		UserID:      userID,
		LessonID:    lessonID,
		Filename:    storage.SanitizeFilename(filename),
		Description: description,
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	path, err := s.layout.SavePDF(userID.String(), lessonID.String(), doc.ID.String(), file)
	if err != nil {
		s.rollback(ctx, doc.ID)
		return nil, err
	}
	if err := s.store.SetStoragePath(ctx, doc.ID, path); err != nil {
		_ = storage.RemoveFiles(path)
		s.rollback(ctx, doc.ID)
		return nil, fmt.Errorf("set storage path: %w", err)
	}
	doc.StoragePath = path

	s.dispatch(ctx, doc)
	s.logger.Info("document uploaded",
		zap.String("document_id", doc.ID.String()),
		zap.String("lesson_id", lessonID.String()),
		zap.String("status", string(doc.Status)))
	return doc, nil
}

func (s *Service) rollback(ctx context.Context, id uuid.UUID) {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		s.logger.Error("rollback placeholder failed", zap.String("document_id", id.String()), zap.Error(err))
	}
}

// dispatch enqueues doc and announces its status. On enqueue failure doc is moved to erro.
func (s *Service) dispatch(ctx context.Context, doc *models.Document) {
	if err := s.queue.EnqueueDocument(ctx, doc.ID); err != nil {
		s.logger.Error("enqueue document failed", zap.String("document_id", doc.ID.String()), zap.Error(err))
		if markErr := s.store.MarkFailed(ctx, doc.ID, ReasonEnqueueFailed); markErr != nil {
			s.logger.Error("mark document failed", zap.String("document_id", doc.ID.String()), zap.Error(markErr))
		}
		reason := ReasonEnqueueFailed
		doc.Status = models.StatusFailed
		doc.Error = &reason
		events.PublishOutcome(s.publisher, events.Outcome{DocumentID: doc.ID, Status: models.StatusFailed, Error: reason})
		return
	}
	events.PublishOutcome(s.publisher, events.Outcome{DocumentID: doc.ID, Status: models.StatusProcessing})
}

// Regenerate resets a document to processando and enqueues it again. Existing audio is
// removed; the transcript is kept unless resetTranscript is set.
func (s *Service) Regenerate(ctx context.Context, userID, id uuid.UUID, resetTranscript bool) (*models.Document, error) {
	prev, err := s.store.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.ResetForRegenerate(ctx, id, userID, resetTranscript)
	if err != nil {
		return nil, err
	}
	s.removeAudio(ctx, prev)
	s.dispatch(ctx, doc)
	s.logger.Info("document regeneration requested",
		zap.String("document_id", id.String()),
		zap.Bool("reset_transcript", resetTranscript))
	return doc, nil
}

// Get returns a user's document.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Document, error) {
	return s.store.GetForUser(ctx, id, userID)
}

// List returns a user's documents in a lesson.
func (s *Service) List(ctx context.Context, userID, lessonID uuid.UUID) ([]models.Document, error) {
	owned, err := s.lessons.OwnsLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("check lesson: %w", err)
	}
	if !owned {
		return nil, ErrLessonNotFound
	}
	return s.store.ListByLesson(ctx, userID, lessonID)
}

// AudioFile returns the local audio path of a completed document.
func (s *Service) AudioFile(ctx context.Context, userID, id uuid.UUID) (*models.Document, string, error) {
	doc, err := s.store.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, "", err
	}
	if doc.Status != models.StatusCompleted || !doc.HasAudio() || !storage.Exists(*doc.AudioPath) {
		return doc, "", ErrNoAudio
	}
	return doc, *doc.AudioPath, nil
}

// AudioURL returns a pre-signed URL for a completed document's mirrored audio.
func (s *Service) AudioURL(ctx context.Context, userID, id uuid.UUID) (string, error) {
	doc, err := s.store.GetForUser(ctx, id, userID)
	if err != nil {
		return "", err
	}
	if doc.Status != models.StatusCompleted {
		return "", ErrNoAudio
	}
	if s.objects == nil || doc.AudioS3Key == nil || *doc.AudioS3Key == "" {
		return "", ErrNotMirrored
	}
	return s.objects.PresignedAudioURL(ctx, *doc.AudioS3Key)
}

// Delete removes a user's document with its source file and audio.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := s.store.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	s.removeFiles(ctx, doc)
	s.logger.Info("document deleted", zap.String("document_id", id.String()))
	return nil
}

// RemoveLessonFiles deletes the files of every document in the given lessons. Callers delete
// the lesson rows afterwards; document rows go with them.
func (s *Service) RemoveLessonFiles(ctx context.Context, lessonIDs []uuid.UUID) error {
	docs, err := s.store.ListByLessonIDs(ctx, lessonIDs)
	if err != nil {
		return fmt.Errorf("list lesson documents: %w", err)
	}
	for i := range docs {
		s.removeFiles(ctx, &docs[i])
	}
	return nil
}

// ApplyOutcome records a worker outcome and publishes it. Outcomes that do not apply to the
// record's current status return ErrTransitionRejected and publish nothing.
func (s *Service) ApplyOutcome(ctx context.Context, o events.Outcome) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	var reason *string
	if o.Error != "" {
		reason = &o.Error
	}
	doc, err := s.store.ApplyOutcome(ctx, o.DocumentID, o.Status, reason)
	if err != nil {
		return err
	}
	if o.Error == "" && doc.Error != nil {
		o.Error = *doc.Error
	}
	events.PublishOutcome(s.publisher, o)
	s.logger.Info("document outcome applied",
		zap.String("document_id", o.DocumentID.String()),
		zap.String("status", string(o.Status)))
	return nil
}

func (s *Service) removeFiles(ctx context.Context, doc *models.Document) {
	if err := storage.RemoveFiles(doc.StoragePath); err != nil {
		s.logger.Warn("remove source file failed", zap.String("document_id", doc.ID.String()), zap.Error(err))
	}
	s.removeAudio(ctx, doc)
}

func (s *Service) removeAudio(ctx context.Context, doc *models.Document) {
	if doc.AudioPath != nil {
		if err := storage.RemoveFiles(*doc.AudioPath); err != nil {
			s.logger.Warn("remove audio file failed", zap.String("document_id", doc.ID.String()), zap.Error(err))
		}
	}
	if s.objects != nil && doc.AudioS3Key != nil && *doc.AudioS3Key != "" {
		if err := s.objects.DeleteAudio(ctx, *doc.AudioS3Key); err != nil {
			s.logger.Warn("delete audio object failed", zap.String("document_id", doc.ID.String()), zap.Error(err))
		}
	}
}
