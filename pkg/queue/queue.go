package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueDocuments is the Redis list key for PDF-to-audio jobs waiting for a worker.
	QueueDocuments = "worker:pdf_audio"
	// QueueProcessing holds jobs handed to a worker and not yet acked.
	QueueProcessing = "worker:pdf_audio:processing"
	// QueueDLQ is the dead-letter queue for jobs that kept failing on infrastructure errors.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// Job is the dispatch unit: it names a document and nothing else. Workers re-read the
// record when the job runs.
type Job struct {
	ID         string    `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
}

// Delivery is a dequeued job plus the raw list entry used to ack it.
type Delivery struct {
	Job *Job
	raw string
}

// Queue enqueues and dequeues jobs via Redis lists. Dequeue moves the entry to a
// processing list so a crashed worker's job can be recovered (at-least-once).
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueDocument enqueues a processing job for the document.
func (q *Queue) EnqueueDocument(ctx context.Context, documentID uuid.UUID) error {
	job := Job{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueDocuments, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued document job", zap.String("job_id", job.ID), zap.String("document_id", documentID.String()))
	return nil
}

// Dequeue blocks up to timeout for a job. It returns (nil, nil) when nothing arrived in time.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, QueueDocuments, QueueProcessing, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.DocumentID == uuid.Nil {
		q.logger.Warn("invalid job payload", zap.String("raw", raw), zap.Error(err))
		if ackErr := q.client.LRem(ctx, QueueProcessing, 1, raw).Err(); ackErr != nil {
			q.logger.Error("drop invalid job failed", zap.Error(ackErr))
		}
		return nil, nil
	}
	return &Delivery{Job: &job, raw: raw}, nil
}

// Ack removes a delivered job from the processing list.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, QueueProcessing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("lrem: %w", err)
	}
	return nil
}

// Retry acks the delivery and re-enqueues the job with incremented attempt.
// If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, d *Delivery) error {
	job := *d.Job
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	target := QueueDocuments
	if job.Attempt >= MaxRetries {
		target = QueueDLQ
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, QueueProcessing, 1, d.raw)
		pipe.RPush(ctx, target, raw)
		return nil
	})
	if err != nil {
		q.logger.Error("retry push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	if target == QueueDLQ {
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// RecoverInflight moves every unacked job back to the pending list. Workers call it on
// start-up; a job still owned by a live worker may then run twice, which the worker tolerates.
func (q *Queue) RecoverInflight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, QueueProcessing, QueueDocuments, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("lmove: %w", err)
		}
		n++
	}
	if n > 0 {
		q.logger.Info("recovered in-flight jobs", zap.Int("count", n))
	}
	return n, nil
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueDocuments).Result()
}
