// Package publisher implements the publish worker: it claims matured jobs
// from the delayed queue, delivers post content to the publishing provider,
// and settles the job, the job index, and the post status according to the
// delivery outcome. Retry policy lives entirely in the queue; the worker only
// classifies failures as retryable or terminal.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"postwire/internal/config"
	"postwire/internal/external"
	"postwire/internal/types"
)

// JobSource is the subset of queue operations the worker needs.
type JobSource interface {
	Receive(ctx context.Context, queue, workerID string) (*types.QueueJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, reason string) (retrying bool, err error)
	Discard(ctx context.Context, jobID, reason string) error
}

// PostStore is the subset of post persistence the worker needs.
type PostStore interface {
	UpdateStatusIf(ctx context.Context, ownerID, postID string, from, to types.PostStatus) (bool, error)
}

// JobIndex is the subset of index operations the worker needs.
type JobIndex interface {
	Delete(ctx context.Context, ownerID, postID string) error
}

// Deliverer sends a post to the publishing provider.
type Deliverer interface {
	Publish(ctx context.Context, req external.PublishRequest) (*external.PublishResult, error)
}

// Worker is the publish delivery loop. Run starts cfg.Concurrency consumers
// that poll the queue until the context is cancelled.
type Worker struct {
	queue   JobSource
	posts   PostStore
	index   JobIndex
	client  Deliverer
	metrics Metrics
	cfg     config.QueueConfig
	logger  *slog.Logger

	workerID string
	sleepFn  func(context.Context, time.Duration) // for testability
}

// WorkerOption is a functional option for configuring a Worker.
type WorkerOption func(*Worker)

// WithWorkerID overrides the generated worker identity.
func WithWorkerID(id string) WorkerOption {
	return func(w *Worker) {
		w.workerID = id
	}
}

// NewWorker creates a publish worker. A nil metrics implementation is
// replaced with NoopMetrics.
func NewWorker(
	queue JobSource,
	posts PostStore,
	index JobIndex,
	client Deliverer,
	metrics Metrics,
	cfg config.QueueConfig,
	logger *slog.Logger,
	opts ...WorkerOption,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	hostname, _ := os.Hostname()
	w := &Worker{
		queue:    queue,
		posts:    posts,
		index:    index,
		client:   client,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		workerID: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		sleepFn:  sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run blocks, consuming jobs until ctx is cancelled. It returns nil on
// graceful shutdown; any other error from a consumer stops all of them.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "publish worker starting",
		"worker_id", w.workerID,
		"queue", types.PublishQueueName,
		"concurrency", w.cfg.Concurrency,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		consumerID := fmt.Sprintf("%s-%d", w.workerID, i)
		g.Go(func() error {
			return w.consume(ctx, consumerID)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	w.logger.Info("publish worker stopped", "worker_id", w.workerID)
	return nil
}

// consume is a single poll loop. Queue errors are logged and retried after a
// poll interval rather than killing the consumer.
func (w *Worker) consume(ctx context.Context, consumerID string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := w.queue.Receive(ctx, types.PublishQueueName, consumerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "failed to receive job",
				"consumer_id", consumerID, "error", err)
			w.sleepFn(ctx, w.cfg.PollInterval)
			continue
		}

		if job == nil {
			w.sleepFn(ctx, w.cfg.PollInterval)
			continue
		}

		w.process(ctx, job)
	}
}

// process delivers a single claimed job and settles its outcome.
func (w *Worker) process(ctx context.Context, job *types.QueueJob) {
	logger := w.logger.With("job_id", job.ID, "attempt", job.Attempts)

	if lag := time.Since(job.RunAfter); lag > 0 {
		w.metrics.RecordQueueLag(ctx, lag)
	}

	payload, err := types.UnmarshalPublishJobPayload(job.Payload)
	if err != nil {
		// A malformed payload can never succeed; retrying would only burn
		// attempts. Discard it.
		logger.ErrorContext(ctx, "discarding job with malformed payload", "error", err)
		if dErr := w.queue.Discard(ctx, job.ID, "malformed payload: "+err.Error()); dErr != nil {
			logger.ErrorContext(ctx, "failed to discard job", "error", dErr)
		}
		w.metrics.RecordPublish(ctx, job.Queue, ResultFailure)
		return
	}

	logger = logger.With("owner_id", payload.OwnerID, "post_id", payload.PostID)

	start := time.Now()
	result, err := w.client.Publish(ctx, external.PublishRequest{
		Author:      payload.OwnerID,
		Text:        payload.Content,
		DocumentURN: payload.DocumentURN,
	})
	w.metrics.RecordPublishLatency(ctx, job.Queue, time.Since(start))

	if err != nil {
		w.settleFailure(ctx, logger, job, err)
		return
	}

	w.settleSuccess(ctx, logger, job, payload, result)
}

// settleSuccess flips the post to published, cleans the job index entry, and
// completes the job. The status flip is conditional: if the post is no longer
// scheduled (deleted or changed concurrently), the delivery already happened,
// so the job still completes and the zero-row flip is logged, not an error.
func (w *Worker) settleSuccess(
	ctx context.Context,
	logger *slog.Logger,
	job *types.QueueJob,
	payload *types.PublishJobPayload,
	result *external.PublishResult,
) {
	flipped, err := w.posts.UpdateStatusIf(ctx, payload.OwnerID, payload.PostID,
		types.PostStatusScheduled, types.PostStatusPublished)
	if err != nil {
		logger.ErrorContext(ctx, "failed to update post status after delivery", "error", err)
	} else if !flipped {
		logger.WarnContext(ctx, "delivered post was no longer in scheduled state")
	}

	if err := w.index.Delete(ctx, payload.OwnerID, payload.PostID); err != nil {
		logger.WarnContext(ctx, "failed to clean job index entry", "error", err)
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		logger.ErrorContext(ctx, "failed to complete job", "error", err)
	}

	w.metrics.RecordPublish(ctx, job.Queue, ResultSuccess)
	logger.InfoContext(ctx, "post published",
		"provider_post_id", result.ProviderPostID)
}

// settleFailure classifies the delivery error. Provider rejections are
// terminal (the same content will be rejected again); everything else goes
// back to the queue, which owns the retry policy.
func (w *Worker) settleFailure(ctx context.Context, logger *slog.Logger, job *types.QueueJob, pubErr error) {
	if external.IsTerminalPublishError(pubErr) {
		logger.ErrorContext(ctx, "provider permanently rejected post", "error", pubErr)
		if err := w.queue.Discard(ctx, job.ID, pubErr.Error()); err != nil {
			logger.ErrorContext(ctx, "failed to discard rejected job", "error", err)
		}
		w.metrics.RecordPublish(ctx, job.Queue, ResultFailure)
		return
	}

	retrying, err := w.queue.Fail(ctx, job.ID, pubErr.Error())
	if err != nil {
		logger.ErrorContext(ctx, "failed to record job failure", "error", err)
		w.metrics.RecordPublish(ctx, job.Queue, ResultFailure)
		return
	}

	if retrying {
		w.metrics.RecordPublish(ctx, job.Queue, ResultRetry)
		logger.WarnContext(ctx, "delivery failed, job requeued", "error", pubErr)
	} else {
		w.metrics.RecordPublish(ctx, job.Queue, ResultFailure)
		logger.ErrorContext(ctx, "delivery failed permanently", "error", pubErr)
	}
}
