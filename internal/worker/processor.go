// Package worker runs the PDF-to-audio pipeline for queued documents.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aulavoz/backend/internal/documents"
	"github.com/aulavoz/backend/internal/engines"
	"github.com/aulavoz/backend/internal/events"
	"github.com/aulavoz/backend/internal/models"
	"github.com/aulavoz/backend/internal/text"
	"github.com/aulavoz/backend/pkg/queue"
	"github.com/aulavoz/backend/pkg/storage"
)

// Failure reasons stored on the record and sent to clients.
const (
	ReasonNotFound        = "documento não encontrado"
	ReasonMissingFields   = "documento sem usuário, aula ou arquivo associado"
	ReasonMissingFile     = "arquivo PDF não encontrado"
	ReasonExtractFailed   = "falha ao extrair texto do PDF"
	ReasonEmptyText       = "nenhum texto encontrado no PDF"
	ReasonSynthesisFailed = "falha ao gerar áudio"
	ReasonChanged         = "documento alterado durante o processamento"
	ReasonAudioLost       = "arquivo de áudio não encontrado, gere novamente"
)

// Store is the record store the pipeline reads and commits to. *documents.Repository implements it.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	SetTranscript(ctx context.Context, id uuid.UUID, transcript string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, audioPath string, s3Key *string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkAudioLost(ctx context.Context, id uuid.UUID, reason string) error
}

// Jobs is the queue the worker loop consumes. *queue.Queue implements it.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Retry(ctx context.Context, d *queue.Delivery) error
}

// AudioMirror copies finished audio to object storage. *storage.S3 implements it.
type AudioMirror interface {
	UploadAudio(ctx context.Context, key, localPath string) error
}

// Stages are the external pipeline steps.
type Stages struct {
	Extractor   engines.Extractor
	Improver    engines.Improver // nil skips improvement
	Synthesizer engines.Synthesizer
}

// Config tunes the worker.
type Config struct {
	ByteLimit    int           // synthesis request limit, see text.Chunk
	PollTimeout  time.Duration // blocking dequeue timeout
	RetryBackoff time.Duration // pause after an infrastructure failure
}

// Processor executes document jobs: extract, clean, improve, synthesize, commit, report.
type Processor struct {
	store    Store
	jobs     Jobs
	stages   Stages
	layout   *storage.Layout
	mirror   AudioMirror
	reporter events.Reporter
	cfg      Config
	logger   *zap.Logger
}

// NewProcessor creates a pipeline processor. mirror may be nil.
func NewProcessor(store Store, jobs Jobs, stages Stages, layout *storage.Layout, mirror AudioMirror, reporter events.Reporter, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stages.Improver == nil {
		stages.Improver = engines.Passthrough
	}
	if cfg.ByteLimit <= 0 {
		cfg.ByteLimit = text.DefaultByteLimit
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = queue.RetryBackoff
	}
	return &Processor{
		store:    store,
		jobs:     jobs,
		stages:   stages,
		layout:   layout,
		mirror:   mirror,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs one job and reports exactly one outcome for it. Stage failures are recorded
// on the document and reported as erro; they are not retried. A non-nil error means the
// record store could not be reached or ctx was cancelled mid-pipeline; nothing is reported
// then and the job should run again.
func (p *Processor) Process(ctx context.Context, job *queue.Job) (err error) {
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("document_id", job.DocumentID.String()))
	out := events.Outcome{DocumentID: job.DocumentID, Status: models.StatusFailed}
	report := true

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", zap.Any("panic", r), zap.Stack("stack"))
			out.Status = models.StatusFailed
			out.Error = fmt.Sprintf("erro interno: %v", r)
			p.markFailed(ctx, log, job.DocumentID, out.Error)
			report = true
			err = nil
		}
		if report {
			p.report(ctx, log, out)
		}
	}()

	doc, err := p.store.GetByID(ctx, job.DocumentID)
	if errors.Is(err, documents.ErrNotFound) {
		log.Warn("document not found")
		out.Error = ReasonNotFound
		return nil
	}
	if err != nil {
		report = false
		return fmt.Errorf("load document: %w", err)
	}

	out.Status, out.Error, err = p.run(ctx, log, doc)
	if err != nil {
		report = false
		return err
	}
	return nil
}

// run drives the pipeline for a loaded document and returns the outcome to report.
func (p *Processor) run(ctx context.Context, log *zap.Logger, doc *models.Document) (models.DocumentStatus, string, error) {
	switch doc.Status {
	case models.StatusCompleted:
		if !doc.HasAudio() || !storage.Exists(*doc.AudioPath) {
			log.Warn("completed document has no audio file")
			err := p.store.MarkAudioLost(ctx, doc.ID, ReasonAudioLost)
			switch {
			case err == nil:
				return models.StatusFailed, ReasonAudioLost, nil
			case errors.Is(err, documents.ErrNotFound):
				return models.StatusFailed, ReasonNotFound, nil
			case errors.Is(err, documents.ErrTransitionRejected):
				// Regenerated or failed meanwhile; handle the record as it is now.
				fresh, err := p.store.GetByID(ctx, doc.ID)
				if errors.Is(err, documents.ErrNotFound) {
					return models.StatusFailed, ReasonNotFound, nil
				}
				if err != nil {
					return "", "", fmt.Errorf("reload document: %w", err)
				}
				if fresh.Status == models.StatusCompleted {
					return models.StatusCompleted, "", nil
				}
				return p.run(ctx, log, fresh)
			default:
				return "", "", fmt.Errorf("mark audio lost: %w", err)
			}
		}
		log.Info("document already completed, skipping")
		return models.StatusCompleted, "", nil
	case models.StatusFailed:
		reason := ""
		if doc.Error != nil {
			reason = *doc.Error
		}
		log.Info("stale delivery for failed document, skipping")
		return models.StatusFailed, reason, nil
	}

	if doc.UserID == uuid.Nil || doc.LessonID == uuid.Nil || doc.StoragePath == "" {
		return p.fail(ctx, log, doc.ID, ReasonMissingFields)
	}
	if !storage.Exists(doc.StoragePath) {
		return p.fail(ctx, log, doc.ID, ReasonMissingFile)
	}

	transcript := ""
	if doc.HasTranscript() {
		transcript = *doc.Transcript
		log.Info("reusing stored transcript", zap.Int("bytes", len(transcript)))
	} else {
		raw, err := p.stages.Extractor.Extract(ctx, doc.StoragePath)
		if err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx, "extract")
			}
			if errors.Is(err, engines.ErrEmptyText) {
				return p.fail(ctx, log, doc.ID, ReasonEmptyText)
			}
			log.Error("extract failed", zap.String("stage", "extract"), zap.Error(err))
			return p.fail(ctx, log, doc.ID, ReasonExtractFailed+": "+err.Error())
		}
		cleaned := text.Clean(raw)
		if cleaned == "" {
			return p.fail(ctx, log, doc.ID, ReasonEmptyText)
		}

		improved, err := p.stages.Improver.Improve(ctx, cleaned)
		if ctx.Err() != nil {
			return interrupted(ctx, "improve")
		}
		if err != nil || strings.TrimSpace(improved) == "" {
			log.Warn("improve failed, using cleaned text", zap.String("stage", "improve"), zap.Error(err))
			improved = cleaned
		}
		transcript = improved

		if err := p.store.SetTranscript(ctx, doc.ID, transcript); err != nil {
			if errors.Is(err, documents.ErrNotFound) {
				return models.StatusFailed, ReasonNotFound, nil
			}
			return "", "", fmt.Errorf("save transcript: %w", err)
		}
		log.Info("transcript saved", zap.Int("bytes", len(transcript)))
	}

	userID, lessonID, docID := doc.UserID.String(), doc.LessonID.String(), doc.ID.String()
	audioPath := p.layout.AudioPath(userID, lessonID, docID)
	if err := p.synthesize(ctx, log, transcript, audioPath); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, "synthesize")
		}
		log.Error("synthesis failed", zap.String("stage", "synthesize"), zap.Error(err))
		return p.fail(ctx, log, doc.ID, ReasonSynthesisFailed+": "+err.Error())
	}

	var s3Key *string
	if p.mirror != nil {
		key := storage.AudioKey(userID, lessonID, docID)
		if err := p.mirror.UploadAudio(ctx, key, audioPath); err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx, "mirror")
			}
			log.Warn("audio mirror failed", zap.String("stage", "mirror"), zap.Error(err))
		} else {
			s3Key = &key
		}
	}

	if err := p.store.MarkCompleted(ctx, doc.ID, audioPath, s3Key); err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound):
			_ = storage.RemoveFiles(audioPath)
			return models.StatusFailed, ReasonNotFound, nil
		case errors.Is(err, documents.ErrTransitionRejected):
			log.Warn("document changed while processing")
			return models.StatusFailed, ReasonChanged, nil
		default:
			return "", "", fmt.Errorf("mark completed: %w", err)
		}
	}
	log.Info("document completed", zap.String("audio_path", audioPath), zap.Bool("mirrored", s3Key != nil))
	return models.StatusCompleted, "", nil
}

// synthesize renders transcript chunk by chunk into a temporary file and moves it into place.
func (p *Processor) synthesize(ctx context.Context, log *zap.Logger, transcript, audioPath string) error {
	chunks := text.Chunk(text.CleanForSpeech(transcript), p.cfg.ByteLimit)
	if len(chunks) == 0 {
		return fmt.Errorf("no text to synthesize")
	}
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return fmt.Errorf("ensure audio directory: %w", err)
	}

	tmp := audioPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return err
	}

	for i, chunk := range chunks {
		audio, err := p.stages.Synthesizer.Synthesize(ctx, chunk)
		if err != nil {
			return fail(fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err))
		}
		if _, err := f.Write(audio); err != nil {
			return fail(fmt.Errorf("write audio: %w", err))
		}
		log.Debug("chunk synthesized", zap.Int("chunk", i+1), zap.Int("chunks", len(chunks)), zap.Int("bytes", len(audio)))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmp, audioPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move audio file: %w", err)
	}
	return nil
}

// interrupted turns a stage cut short by cancellation into an infrastructure error, so the
// document keeps its status and the job is picked up again.
func interrupted(ctx context.Context, stage string) (models.DocumentStatus, string, error) {
	return "", "", fmt.Errorf("%s interrupted: %w", stage, ctx.Err())
}

// fail records a stage failure on the document and returns the erro outcome.
func (p *Processor) fail(ctx context.Context, log *zap.Logger, id uuid.UUID, reason string) (models.DocumentStatus, string, error) {
	p.markFailed(ctx, log, id, reason)
	return models.StatusFailed, reason, nil
}

func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, id uuid.UUID, reason string) {
	log.Warn("document failed", zap.String("reason", reason))
	if err := p.store.MarkFailed(context.WithoutCancel(ctx), id, reason); err != nil {
		if errors.Is(err, documents.ErrTransitionRejected) || errors.Is(err, documents.ErrNotFound) {
			log.Warn("failure not recorded", zap.Error(err))
			return
		}
		log.Error("mark failed", zap.Error(err))
	}
}

func (p *Processor) report(ctx context.Context, log *zap.Logger, o events.Outcome) {
	if p.reporter == nil {
		return
	}
	if err := p.reporter.Report(context.WithoutCancel(ctx), o); err != nil {
		log.Error("outcome report failed", zap.String("status", string(o.Status)), zap.Error(err))
		return
	}
	log.Debug("outcome reported", zap.String("status", string(o.Status)))
}

// Run consumes jobs until ctx is cancelled: dequeue, process, then ack or retry.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("pdf audio worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pdf audio worker stopping")
			return nil
		default:
		}

		d, err := p.jobs.Dequeue(ctx, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx, p.cfg.RetryBackoff)
			continue
		}
		if d == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", d.Job.ID), zap.Int("attempt", d.Job.Attempt))
		if err := p.Process(ctx, d.Job); err != nil {
			if ctx.Err() != nil {
				// Left in the processing list; RecoverInflight requeues it on the next start.
				p.logger.Warn("job interrupted by shutdown", zap.String("job_id", d.Job.ID), zap.Error(err))
				continue
			}
			p.logger.Error("job failed", zap.String("job_id", d.Job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(context.WithoutCancel(ctx), d); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx, p.cfg.RetryBackoff)
			continue
		}
		if err := p.jobs.Ack(context.WithoutCancel(ctx), d); err != nil {
			p.logger.Error("ack failed", zap.String("job_id", d.Job.ID), zap.Error(err))
		}
	}
}

// RunN runs n worker loops concurrently and waits for all of them.
func (p *Processor) RunN(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error { return p.Run(ctx) })
	}
	return g.Wait()
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
