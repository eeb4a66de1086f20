package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulavoz/backend/internal/models"
)

var (
	// ErrNotFound is returned when a document does not exist or is not owned by the caller.
	ErrNotFound = errors.New("document not found")
	// ErrTransitionRejected is returned when a status write does not apply to the record's
	// current status.
	ErrTransitionRejected = errors.New("status transition not allowed")
)

const documentColumns = `id, user_id, lesson_id, filename, storage_path, description, transcript,
	audio_path, audio_s3_key, status, error, created_at, updated_at`

// Repository handles document persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a documents repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.UserID, &d.LessonID, &d.Filename, &d.StoragePath, &d.Description, &d.Transcript,
		&d.AudioPath, &d.AudioS3Key, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func collectDocuments(rows pgx.Rows) ([]models.Document, error) {
	defer rows.Close()
	list := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *d)
	}
	return list, rows.Err()
}

// Create inserts a placeholder record with status processando and no storage path yet.
func (r *Repository) Create(ctx context.Context, d *models.Document) error {
	const q = `INSERT INTO documents (user_id, lesson_id, filename, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, d.UserID, d.LessonID, d.Filename, d.Description, models.StatusProcessing).
		Scan(&d.ID, &d.Status, &d.CreatedAt, &d.UpdatedAt)
}

// GetByID returns a document regardless of owner. Used by the worker.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.pool.QueryRow(ctx, q, id))
}

// GetForUser returns a document owned by userID.
func (r *Repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND user_id = $2`
	return scanDocument(r.pool.QueryRow(ctx, q, id, userID))
}

// ListByLesson returns a user's documents in a lesson, newest first.
func (r *Repository) ListByLesson(ctx context.Context, userID, lessonID uuid.UUID) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND lesson_id = $2 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID, lessonID)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

// ListByLessonIDs returns every document in the given lessons.
func (r *Repository) ListByLessonIDs(ctx context.Context, lessonIDs []uuid.UUID) ([]models.Document, error) {
	if len(lessonIDs) == 0 {
		return []models.Document{}, nil
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE lesson_id = ANY($1)`
	rows, err := r.pool.Query(ctx, q, lessonIDs)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

// SetStoragePath records where the uploaded file was written.
func (r *Repository) SetStoragePath(ctx context.Context, id uuid.UUID, path string) error {
	const q = `UPDATE documents SET storage_path = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, path, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTranscript persists the improved transcript.
func (r *Repository) SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	const q = `UPDATE documents SET transcript = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, transcript, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted moves a processing document to concluido with its audio location.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, audioPath string, s3Key *string) error {
	const q = `UPDATE documents SET status = $1, audio_path = $2, audio_s3_key = $3, error = NULL, updated_at = NOW()
		WHERE id = $4 AND status = $5`
	tag, err := r.pool.Exec(ctx, q, models.StatusCompleted, audioPath, s3Key, id, models.StatusProcessing)
	if err != nil {
		return err
	}
	return r.checkGuarded(ctx, id, tag.RowsAffected())
}

// MarkFailed moves a processing document to erro with a reason.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE documents SET status = $1, error = $2, audio_path = NULL, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.pool.Exec(ctx, q, models.StatusFailed, reason, id, models.StatusProcessing)
	if err != nil {
		return err
	}
	return r.checkGuarded(ctx, id, tag.RowsAffected())
}

// MarkAudioLost moves a concluido document whose audio file has disappeared to erro, so the
// owner sees the failure and can regenerate it.
func (r *Repository) MarkAudioLost(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE documents SET status = $1, error = $2, audio_path = NULL, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.pool.Exec(ctx, q, models.StatusFailed, reason, id, models.StatusCompleted)
	if err != nil {
		return err
	}
	return r.checkGuarded(ctx, id, tag.RowsAffected())
}

// checkGuarded turns an update that touched no rows into ErrNotFound or ErrTransitionRejected.
func (r *Repository) checkGuarded(ctx context.Context, id uuid.UUID, affected int64) error {
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrTransitionRejected
}

// ApplyOutcome records a reported outcome. It applies when the document is still processing
// or already holds the reported status; concluido additionally requires stored audio.
// The resulting document is returned.
func (r *Repository) ApplyOutcome(ctx context.Context, id uuid.UUID, status models.DocumentStatus, reason *string) (*models.Document, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("apply outcome: %w", ErrTransitionRejected)
	}
	q := `UPDATE documents SET
			status = $1,
			error = CASE WHEN $1 = 'erro' THEN COALESCE($2, error) ELSE NULL END,
			audio_path = CASE WHEN $1 = 'erro' THEN NULL ELSE audio_path END,
			updated_at = NOW()
		WHERE id = $3 AND (status = 'processando' OR status = $1)
			AND ($1 <> 'concluido' OR audio_path IS NOT NULL)
		RETURNING ` + documentColumns
	d, err := scanDocument(r.pool.QueryRow(ctx, q, status, reason, id))
	if errors.Is(err, ErrNotFound) {
		return nil, r.checkGuarded(ctx, id, 0)
	}
	return d, err
}

// ResetForRegenerate puts a user's document back to processando, clearing audio and error.
// With resetTranscript the transcript is cleared too, forcing re-extraction.
func (r *Repository) ResetForRegenerate(ctx context.Context, id, userID uuid.UUID, resetTranscript bool) (*models.Document, error) {
	q := `UPDATE documents SET
			status = 'processando',
			audio_path = NULL,
			audio_s3_key = NULL,
			error = NULL,
			transcript = CASE WHEN $3 THEN NULL ELSE transcript END,
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + documentColumns
	return scanDocument(r.pool.QueryRow(ctx, q, id, userID, resetTranscript))
}

// Delete removes a user's document and returns the deleted row so its files can be removed.
func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) (*models.Document, error) {
	q := `DELETE FROM documents WHERE id = $1 AND user_id = $2 RETURNING ` + documentColumns
	return scanDocument(r.pool.QueryRow(ctx, q, id, userID))
}

// DeleteByID removes a document regardless of owner. Used to roll back a failed upload.
func (r *Repository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}
