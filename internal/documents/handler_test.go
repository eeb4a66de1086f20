package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/middleware"
	"github.com/aulavoz/backend/internal/models"
)

const workerToken = "worker-secret"

func newRouter(f *serviceFixture, maxBody int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, nil)
	outcomes := NewOutcomeHandler(f.svc, workerToken, nil)

	r := gin.New()
	r.POST("/events/pdf-audio", outcomes.Receive)
	authed := r.Group("", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, f.userID)
		c.Next()
	})
	authed.POST("/lessons/:id/documents", middleware.MaxBodySize(maxBody), h.Upload)
	authed.GET("/lessons/:id/documents", h.List)
	authed.GET("/documents/:id", h.Get)
	authed.POST("/documents/:id/regenerate", h.Regenerate)
	authed.GET("/documents/:id/audio", h.Audio)
	authed.GET("/documents/:id/audio-url", h.AudioURL)
	authed.DELETE("/documents/:id", h.Delete)
	return r
}

func multipartBody(t *testing.T, filename string, content []byte, description string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if description != "" {
		require.NoError(t, w.WriteField("description", description))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type docEnvelope struct {
	Success bool                  `json:"success"`
	Data    models.DocumentPublic `json:"data"`
	Error   string                `json:"error"`
}

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func TestUploadHandler(t *testing.T) {
	f := newServiceFixture(t)
	r := newRouter(f, 1<<20)

	body, ctype := multipartBody(t, "Aula 1.pdf", minimalPDF, "introdução")
	req := httptest.NewRequest(http.MethodPost, "/lessons/"+f.lessonID.String()+"/documents", body)
	req.Header.Set("Content-Type", ctype)
	w := serve(r, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var env docEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, models.StatusProcessing, env.Data.Status)
	assert.Equal(t, "Aula_1.pdf", env.Data.Filename)
	require.NotNil(t, env.Data.Description)
	assert.Equal(t, "introdução", *env.Data.Description)
	assert.False(t, env.Data.HasAudio)
	assert.NotContains(t, w.Body.String(), "storage_path")
	assert.Len(t, f.queue.ids, 1)
}

func TestUploadHandlerRejects(t *testing.T) {
	f := newServiceFixture(t)
	r := newRouter(f, 512)

	tests := []struct {
		name     string
		lesson   string
		filename string
		content  []byte
		want     int
	}{
		{"not a pdf", f.lessonID.String(), "notes.pdf", []byte("just some text"), http.StatusBadRequest},
		{"invalid lesson id", "nope", "a.pdf", minimalPDF, http.StatusBadRequest},
		{"unknown lesson", uuid.NewString(), "a.pdf", minimalPDF, http.StatusNotFound},
		{"too large", f.lessonID.String(), "a.pdf", append(append([]byte{}, minimalPDF...), bytes.Repeat([]byte("x"), 4096)...), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ctype := multipartBody(t, tt.filename, tt.content, "")
			req := httptest.NewRequest(http.MethodPost, "/lessons/"+tt.lesson+"/documents", body)
			req.Header.Set("Content-Type", ctype)
			w := serve(r, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/lessons/"+f.lessonID.String()+"/documents", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, serve(r, req).Code, "missing file")
	assert.Empty(t, f.queue.ids)
}

func TestAudioHandler(t *testing.T) {
	f := newServiceFixture(t)
	r := newRouter(f, 1<<20)
	d := completedDoc(t, f)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/documents/"+d.ID.String()+"/audio", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "mp3", w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Disposition"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/documents/"+d.ID.String()+"/audio?download=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "a.mp3")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/documents/"+uuid.NewString()+"/audio", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAudioHandlerNotReady(t *testing.T) {
	f := newServiceFixture(t)
	r := newRouter(f, 1<<20)
	doc, err := f.svc.Upload(context.Background(), f.userID, f.lessonID, "a.pdf", nil, bytes.NewReader(minimalPDF))
	require.NoError(t, err)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/documents/"+doc.ID.String()+"/audio", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "audio not generated yet")
}

func TestRegenerateAndDeleteHandlers(t *testing.T) {
	f := newServiceFixture(t)
	r := newRouter(f, 1<<20)
	d := completedDoc(t, f)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/documents/"+d.ID.String()+"/regenerate?reset_transcript=true", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	stored, _ := f.store.get(d.ID)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Nil(t, stored.Transcript)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/documents/"+d.ID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/documents/"+d.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/documents/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func postOutcome(r http.Handler, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/events/pdf-audio", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(events.TokenHeader, token)
	}
	return serve(r, req)
}

func TestOutcomeHandler(t *testing.T) {
	f := newServiceFixture(t)
	r := newRouter(f, 1<<20)
	doc, err := f.svc.Upload(context.Background(), f.userID, f.lessonID, "a.pdf", nil, bytes.NewReader(minimalPDF))
	require.NoError(t, err)
	sub := f.notifier.Subscribe()
	defer sub.Close()

	ok := `{"document_id":"` + doc.ID.String() + `","status":"erro","error":"falha ao gerar áudio"}`

	assert.Equal(t, http.StatusUnauthorized, postOutcome(r, ok, "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, postOutcome(r, `{"document_id":"123","status":"erro"}`, workerToken).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, postOutcome(r, `{"document_id":"`+doc.ID.String()+`","status":"pronto"}`, workerToken).Code)
	assert.Equal(t, http.StatusBadRequest, postOutcome(r, `{`, workerToken).Code)
	assert.Equal(t, http.StatusNotFound, postOutcome(r, `{"document_id":"`+uuid.NewString()+`","status":"erro"}`, workerToken).Code)
	assert.Len(t, sub.C(), 0)

	w := postOutcome(r, ok, workerToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ev := nextEvent(t, sub)
	assert.Equal(t, "pdf_audio_erro", ev.Kind)
	stored, _ := f.store.get(doc.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)

	w = postOutcome(r, `{"document_id":"`+doc.ID.String()+`","status":"concluido"}`, workerToken)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, sub.C(), 0)
}
