package documents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/models"
	"github.com/aulavoz/backend/pkg/storage"
)

type serviceFixture struct {
	svc      *Service
	store    *memStore
	queue    *fakeQueue
	objects  *fakeObjects
	layout   *storage.Layout
	notifier *events.Notifier
	userID   uuid.UUID
	lessonID uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	f := &serviceFixture{
		store:    newMemStore(),
		queue:    &fakeQueue{},
		objects:  &fakeObjects{},
		layout:   layout,
		notifier: events.NewNotifier(nil),
		userID:   uuid.New(),
		lessonID: uuid.New(),
	}
	lessons := fakeLessons{f.lessonID: f.userID}
	f.svc = NewService(f.store, f.queue, lessons, layout, f.objects, f.notifier, nil)
	return f
}

func nextEvent(t *testing.T, s *events.Subscription) events.Event {
	t.Helper()
	select {
	case ev := <-s.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return events.Event{}
}

func TestUploadCreatesRecordFileAndJob(t *testing.T) {
	f := newServiceFixture(t)
	sub := f.notifier.Subscribe()
	defer sub.Close()

	desc := "aula 1"
	doc, err := f.svc.Upload(context.Background(), f.userID, f.lessonID, "Aula Um.pdf", &desc, strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Equal(t, "Aula_Um.pdf", doc.Filename)
	assert.Equal(t, f.layout.PDFPath(f.userID.String(), f.lessonID.String(), doc.ID.String()), doc.StoragePath)
	assert.True(t, storage.Exists(doc.StoragePath))
	assert.Equal(t, []uuid.UUID{doc.ID}, f.queue.ids)

	stored, ok := f.store.get(doc.ID)
	require.True(t, ok)
	assert.Equal(t, doc.StoragePath, stored.StoragePath)

	ev := nextEvent(t, sub)
	assert.Equal(t, "pdf_audio_processando", ev.Kind)
}

func TestUploadEnqueueFailureMarksRecordFailed(t *testing.T) {
	f := newServiceFixture(t)
	f.queue.fail = true

	doc, err := f.svc.Upload(context.Background(), f.userID, f.lessonID, "a.pdf", nil, strings.NewReader("%PDF"))
	require.NoError(t, err, "upload succeeds once the record and file exist")

	assert.Equal(t, models.StatusFailed, doc.Status)
	stored, _ := f.store.get(doc.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, ReasonEnqueueFailed, *stored.Error)
}

func TestUploadUnknownLesson(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Upload(context.Background(), uuid.New(), f.lessonID, "a.pdf", nil, strings.NewReader("%PDF"))
	assert.ErrorIs(t, err, ErrLessonNotFound)
	assert.Empty(t, f.queue.ids)
}

func completedDoc(t *testing.T, f *serviceFixture) models.Document {
	t.Helper()
	doc, err := f.svc.Upload(context.Background(), f.userID, f.lessonID, "a.pdf", nil, strings.NewReader("%PDF"))
	require.NoError(t, err)
	d, _ := f.store.get(doc.ID)

	audio := f.layout.AudioPath(f.userID.String(), f.lessonID.String(), d.ID.String())
	require.NoError(t, os.MkdirAll(filepath.Dir(audio), 0o755))
	require.NoError(t, os.WriteFile(audio, []byte("mp3"), 0o644))
	key := storage.AudioKey(f.userID.String(), f.lessonID.String(), d.ID.String())
	transcript := "texto"
	d.Status, d.AudioPath, d.AudioS3Key, d.Transcript = models.StatusCompleted, &audio, &key, &transcript
	f.store.put(d)
	return d
}

func TestRegenerateResetsAndRequeues(t *testing.T) {
	f := newServiceFixture(t)
	d := completedDoc(t, f)

	doc, err := f.svc.Regenerate(context.Background(), f.userID, d.ID, false)
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Nil(t, doc.AudioPath)
	require.NotNil(t, doc.Transcript, "transcript kept without reset_transcript")
	assert.False(t, storage.Exists(*d.AudioPath), "old audio removed")
	assert.Equal(t, []string{*d.AudioS3Key}, f.objects.deleted)
	assert.Equal(t, []uuid.UUID{d.ID, d.ID}, f.queue.ids)

	doc, err = f.svc.Regenerate(context.Background(), f.userID, d.ID, true)
	require.NoError(t, err)
	assert.Nil(t, doc.Transcript)
}

func TestRegenerateOtherUsersDocument(t *testing.T) {
	f := newServiceFixture(t)
	d := completedDoc(t, f)

	_, err := f.svc.Regenerate(context.Background(), uuid.New(), d.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAudioFile(t *testing.T) {
	f := newServiceFixture(t)
	d := completedDoc(t, f)

	_, path, err := f.svc.AudioFile(context.Background(), f.userID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, *d.AudioPath, path)

	pending, err := f.svc.Upload(context.Background(), f.userID, f.lessonID, "b.pdf", nil, strings.NewReader("%PDF"))
	require.NoError(t, err)
	_, _, err = f.svc.AudioFile(context.Background(), f.userID, pending.ID)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestAudioURL(t *testing.T) {
	f := newServiceFixture(t)
	d := completedDoc(t, f)

	url, err := f.svc.AudioURL(context.Background(), f.userID, d.ID)
	require.NoError(t, err)
	assert.Contains(t, url, *d.AudioS3Key)

	d.AudioS3Key = nil
	f.store.put(d)
	_, err = f.svc.AudioURL(context.Background(), f.userID, d.ID)
	assert.ErrorIs(t, err, ErrNotMirrored)
}

func TestDeleteRemovesFiles(t *testing.T) {
	f := newServiceFixture(t)
	d := completedDoc(t, f)

	require.NoError(t, f.svc.Delete(context.Background(), f.userID, d.ID))

	_, ok := f.store.get(d.ID)
	assert.False(t, ok)
	assert.False(t, storage.Exists(d.StoragePath))
	assert.False(t, storage.Exists(*d.AudioPath))
	assert.Equal(t, []string{*d.AudioS3Key}, f.objects.deleted)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), f.userID, d.ID), ErrNotFound)
}

func TestRemoveLessonFiles(t *testing.T) {
	f := newServiceFixture(t)
	d := completedDoc(t, f)

	require.NoError(t, f.svc.RemoveLessonFiles(context.Background(), []uuid.UUID{f.lessonID}))
	assert.False(t, storage.Exists(d.StoragePath))
	assert.False(t, storage.Exists(*d.AudioPath))
}

func TestApplyOutcome(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sub := f.notifier.Subscribe()
	defer sub.Close()

	doc, err := f.svc.Upload(ctx, f.userID, f.lessonID, "a.pdf", nil, strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "pdf_audio_processando", nextEvent(t, sub).Kind)

	require.NoError(t, f.svc.ApplyOutcome(ctx, events.Outcome{DocumentID: doc.ID, Status: models.StatusFailed, Error: "falhou"}))
	ev := nextEvent(t, sub)
	assert.Equal(t, "pdf_audio_erro", ev.Kind)
	assert.JSONEq(t, `{"document_id":"`+doc.ID.String()+`","status":"erro","error":"falhou"}`, string(ev.Data))

	err = f.svc.ApplyOutcome(ctx, events.Outcome{DocumentID: doc.ID, Status: models.StatusCompleted})
	assert.ErrorIs(t, err, ErrTransitionRejected, "a terminal status never moves to another terminal status")
	assert.Len(t, sub.C(), 0, "rejected outcomes publish nothing")

	err = f.svc.ApplyOutcome(ctx, events.Outcome{DocumentID: uuid.New(), Status: models.StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.ApplyOutcome(ctx, events.Outcome{DocumentID: doc.ID, Status: models.StatusProcessing})
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}
