package subjects

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulavoz/backend/internal/models"
)

// ErrNotFound is returned when a subject does not exist or is not owned by the caller.
var ErrNotFound = errors.New("subject not found")

// Repository handles subject persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a subjects repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a subject.
func (r *Repository) Create(ctx context.Context, s *models.Subject) error {
	const q = `INSERT INTO subjects (user_id, name, description) VALUES ($1, $2, $3)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, s.UserID, s.Name, s.Description).Scan(&s.ID, &s.CreatedAt)
}

// List returns a user's subjects ordered by name.
func (r *Repository) List(ctx context.Context, userID uuid.UUID) ([]models.Subject, error) {
	const q = `SELECT id, user_id, name, description, created_at FROM subjects WHERE user_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Subject{}
	for rows.Next() {
		var s models.Subject
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// OwnsSubject reports whether subjectID exists and belongs to userID.
func (r *Repository) OwnsSubject(ctx context.Context, userID, subjectID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subjects WHERE id = $1 AND user_id = $2)`, subjectID, userID).Scan(&ok)
	return ok, err
}

// Delete removes a user's subject. Lessons and documents go with it.
func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	var deleted uuid.UUID
	err := r.pool.QueryRow(ctx, `DELETE FROM subjects WHERE id = $1 AND user_id = $2 RETURNING id`, id, userID).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
