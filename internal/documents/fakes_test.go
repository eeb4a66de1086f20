package documents

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aulavoz/backend/internal/models"
)

type memStore struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document
}

func newMemStore() *memStore {
	return &memStore{docs: map[uuid.UUID]*models.Document{}}
}

func (m *memStore) get(id uuid.UUID) (models.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return models.Document{}, false
	}
	return *d, true
}

func (m *memStore) put(d models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = &d
}

func (m *memStore) Create(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.Status = models.StatusProcessing
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *memStore) GetForUser(_ context.Context, id, userID uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) ListByLesson(_ context.Context, userID, lessonID uuid.UUID) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []models.Document{}
	for _, d := range m.docs {
		if d.UserID == userID && d.LessonID == lessonID {
			list = append(list, *d)
		}
	}
	return list, nil
}

func (m *memStore) ListByLessonIDs(_ context.Context, lessonIDs []uuid.UUID) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []models.Document{}
	for _, d := range m.docs {
		for _, id := range lessonIDs {
			if d.LessonID == id {
				list = append(list, *d)
			}
		}
	}
	return list, nil
}

func (m *memStore) SetStoragePath(_ context.Context, id uuid.UUID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.StoragePath = path
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status != models.StatusProcessing {
		return ErrTransitionRejected
	}
	d.Status = models.StatusFailed
	d.Error = &reason
	d.AudioPath = nil
	return nil
}

func (m *memStore) ApplyOutcome(_ context.Context, id uuid.UUID, status models.DocumentStatus, reason *string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != models.StatusProcessing && d.Status != status {
		return nil, ErrTransitionRejected
	}
	if status == models.StatusCompleted && d.AudioPath == nil {
		return nil, ErrTransitionRejected
	}
	d.Status = status
	if status == models.StatusFailed {
		d.AudioPath = nil
		if reason != nil {
			d.Error = reason
		}
	} else {
		d.Error = nil
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) ResetForRegenerate(_ context.Context, id, userID uuid.UUID, resetTranscript bool) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	d.Status = models.StatusProcessing
	d.AudioPath, d.AudioS3Key, d.Error = nil, nil, nil
	if resetTranscript {
		d.Transcript = nil
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) Delete(_ context.Context, id, userID uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	delete(m.docs, id)
	return d, nil
}

func (m *memStore) DeleteByID(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	fail bool
}

func (q *fakeQueue) EnqueueDocument(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("redis unavailable")
	}
	q.ids = append(q.ids, id)
	return nil
}

type fakeLessons map[uuid.UUID]uuid.UUID // lesson -> owner

func (f fakeLessons) OwnsLesson(_ context.Context, userID, lessonID uuid.UUID) (bool, error) {
	owner, ok := f[lessonID]
	return ok && owner == userID, nil
}

type fakeObjects struct {
	deleted []string
}

func (o *fakeObjects) PresignedAudioURL(_ context.Context, key string) (string, error) {
	return "https://bucket.example/" + key + "?sig=1", nil
}

func (o *fakeObjects) DeleteAudio(_ context.Context, key string) error {
	o.deleted = append(o.deleted, key)
	return nil
}
