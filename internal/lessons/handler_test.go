package lessons

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulavoz/backend/internal/middleware"
	"github.com/aulavoz/backend/internal/models"
)

type memLessons struct {
	lessons map[uuid.UUID]models.Lesson
	calls   *[]string
}

func (m *memLessons) Create(_ context.Context, l *models.Lesson) error {
	l.ID = uuid.New()
	m.lessons[l.ID] = *l
	return nil
}

func (m *memLessons) List(_ context.Context, userID uuid.UUID) ([]models.Lesson, error) {
	var out []models.Lesson
	for _, l := range m.lessons {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLessons) ListBySubject(_ context.Context, userID, subjectID uuid.UUID) ([]models.Lesson, error) {
	var out []models.Lesson
	for _, l := range m.lessons {
		if l.UserID == userID && l.SubjectID == subjectID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLessons) OwnsLesson(_ context.Context, userID, lessonID uuid.UUID) (bool, error) {
	l, ok := m.lessons[lessonID]
	return ok && l.UserID == userID, nil
}

func (m *memLessons) Delete(_ context.Context, id, userID uuid.UUID) error {
	l, ok := m.lessons[id]
	if !ok || l.UserID != userID {
		return ErrNotFound
	}
	*m.calls = append(*m.calls, "delete")
	delete(m.lessons, id)
	return nil
}

type ownedSubjects map[uuid.UUID]uuid.UUID

func (o ownedSubjects) OwnsSubject(_ context.Context, userID, subjectID uuid.UUID) (bool, error) {
	owner, ok := o[subjectID]
	return ok && owner == userID, nil
}

type fileRemover struct {
	calls *[]string
	err   error
}

func (f fileRemover) RemoveLessonFiles(_ context.Context, ids []uuid.UUID) error {
	*f.calls = append(*f.calls, "files:"+ids[0].String())
	return f.err
}

type fixture struct {
	router    *gin.Engine
	store     *memLessons
	calls     []string
	userID    uuid.UUID
	subjectID uuid.UUID
}

func newFixture(t *testing.T, removeErr error) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{userID: uuid.New(), subjectID: uuid.New()}
	f.store = &memLessons{lessons: map[uuid.UUID]models.Lesson{}, calls: &f.calls}
	h := NewHandler(f.store, ownedSubjects{f.subjectID: f.userID}, fileRemover{calls: &f.calls, err: removeErr}, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, f.userID)
		c.Next()
	})
	r.POST("/lessons", h.Create)
	r.GET("/lessons", h.List)
	r.GET("/subjects/:id/lessons", h.ListBySubject)
	r.DELETE("/lessons/:id", h.Delete)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateAndList(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/lessons", `{"subject_id":"`+f.subjectID.String()+`","title":"  Aula 1 "}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Lesson `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Aula 1", created.Data.Title)
	assert.Equal(t, f.userID, created.Data.UserID)

	w = f.do(http.MethodGet, "/subjects/"+f.subjectID.String()+"/lessons", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Data.ID.String())

	w = f.do(http.MethodGet, "/lessons", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Data.ID.String())
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing title", `{"subject_id":"` + f.subjectID.String() + `"}`, http.StatusBadRequest},
		{"blank title", `{"subject_id":"` + f.subjectID.String() + `","title":"  "}`, http.StatusBadRequest},
		{"bad subject id", `{"subject_id":"x","title":"t"}`, http.StatusBadRequest},
		{"foreign subject", `{"subject_id":"` + uuid.NewString() + `","title":"t"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(http.MethodPost, "/lessons", tt.body).Code)
		})
	}
	assert.Empty(t, f.store.lessons)
}

func TestDeleteRemovesFilesBeforeRow(t *testing.T) {
	f := newFixture(t, nil)
	l := &models.Lesson{UserID: f.userID, SubjectID: f.subjectID, Title: "t"}
	require.NoError(t, f.store.Create(context.Background(), l))

	w := f.do(http.MethodDelete, "/lessons/"+l.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"files:" + l.ID.String(), "delete"}, f.calls)
	assert.Empty(t, f.store.lessons)
}

func TestDeleteForeignLesson(t *testing.T) {
	f := newFixture(t, nil)
	l := &models.Lesson{UserID: uuid.New(), SubjectID: f.subjectID, Title: "t"}
	require.NoError(t, f.store.Create(context.Background(), l))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/lessons/"+l.ID.String(), "").Code)
	assert.Empty(t, f.calls)
	assert.Len(t, f.store.lessons, 1)
}

func TestDeleteKeepsRowWhenFilesFail(t *testing.T) {
	f := newFixture(t, errors.New("disk"))
	l := &models.Lesson{UserID: f.userID, SubjectID: f.subjectID, Title: "t"}
	require.NoError(t, f.store.Create(context.Background(), l))

	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodDelete, "/lessons/"+l.ID.String(), "").Code)
	assert.Len(t, f.store.lessons, 1)
}
