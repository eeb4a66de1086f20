package lessons

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulavoz/backend/internal/models"
)

// ErrNotFound is returned when a lesson does not exist or is not owned by the caller.
var ErrNotFound = errors.New("lesson not found")

// Repository handles lesson persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a lessons repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func collectLessons(rows pgx.Rows) ([]models.Lesson, error) {
	defer rows.Close()
	list := []models.Lesson{}
	for rows.Next() {
		var l models.Lesson
		if err := rows.Scan(&l.ID, &l.UserID, &l.SubjectID, &l.Title, &l.Description, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// Create inserts a lesson.
func (r *Repository) Create(ctx context.Context, l *models.Lesson) error {
	const q = `INSERT INTO lessons (user_id, subject_id, title, description) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, l.UserID, l.SubjectID, l.Title, l.Description).Scan(&l.ID, &l.CreatedAt)
}

// List returns all of a user's lessons, newest first.
func (r *Repository) List(ctx context.Context, userID uuid.UUID) ([]models.Lesson, error) {
	const q = `SELECT id, user_id, subject_id, title, description, created_at FROM lessons
		WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}

// ListBySubject returns a user's lessons in a subject, oldest first.
func (r *Repository) ListBySubject(ctx context.Context, userID, subjectID uuid.UUID) ([]models.Lesson, error) {
	const q = `SELECT id, user_id, subject_id, title, description, created_at FROM lessons
		WHERE user_id = $1 AND subject_id = $2 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, userID, subjectID)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}

// IDsBySubject returns the ids of every lesson in a subject.
func (r *Repository) IDsBySubject(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM lessons WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// OwnsLesson reports whether lessonID exists and belongs to userID.
func (r *Repository) OwnsLesson(ctx context.Context, userID, lessonID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lessons WHERE id = $1 AND user_id = $2)`, lessonID, userID).Scan(&ok)
	return ok, err
}

// Delete removes a user's lesson. Its documents go with it.
func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	var deleted uuid.UUID
	err := r.pool.QueryRow(ctx, `DELETE FROM lessons WHERE id = $1 AND user_id = $2 RETURNING id`, id, userID).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
