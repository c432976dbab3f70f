// Package scheduler implements deferred publication for posts: scheduling,
// rescheduling, and cancellation of publish jobs, plus the bookkeeping that
// keeps the job index and the post status consistent with the queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"postwire/internal/queue"
	"postwire/internal/types"
)

// JobQueue is the subset of queue operations the scheduler needs.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.Options) (string, error)
	GetJob(ctx context.Context, jobID string) (*types.QueueJob, error)
	Remove(ctx context.Context, jobID string) error
	FindByPayload(ctx context.Context, queueName, ownerID, postID string) ([]*types.QueueJob, error)
}

// JobIndex maps (owner, post) to the live queue job, so reschedule and cancel
// can find the job without scanning the queue.
type JobIndex interface {
	Save(ctx context.Context, ownerID, postID, jobID string) error
	Get(ctx context.Context, ownerID, postID string) (string, error)
	Delete(ctx context.Context, ownerID, postID string) error
}

// PostStore is the subset of post persistence the scheduler needs.
type PostStore interface {
	GetByIDAndOwner(ctx context.Context, ownerID, postID string) (*types.Post, error)
	MarkScheduled(ctx context.Context, ownerID, postID string, scheduledFor time.Time) error
	ClearSchedule(ctx context.Context, ownerID, postID string) error
}

// ScheduleInput carries a schedule request. A zero ScheduledFor means
// "publish as soon as possible".
type ScheduleInput struct {
	OwnerID      string
	PostID       string
	Content      string
	DocumentURN  string
	ScheduledFor time.Time
}

// RescheduleInput carries a reschedule request. Zero-valued fields keep the
// corresponding value from the existing job.
type RescheduleInput struct {
	OwnerID      string
	PostID       string
	Content      string
	DocumentURN  string
	ScheduledFor time.Time
}

// ScheduleReceipt reports the outcome of a successful schedule or reschedule.
type ScheduleReceipt struct {
	JobID        string    `json:"job_id"`
	OwnerID      string    `json:"owner_id"`
	PostID       string    `json:"post_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// Service coordinates the queue, the job index, and the post store. At most
// one live queue job exists per (owner, post): every path that enqueues
// either proves no prior job exists or replaces it.
type Service struct {
	queue  JobQueue
	index  JobIndex
	posts  PostStore
	logger *slog.Logger
}

// NewService creates a scheduler Service.
func NewService(q JobQueue, index JobIndex, posts PostStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:  q,
		index:  index,
		posts:  posts,
		logger: logger,
	}
}

// Schedule queues a post for publication at ScheduledFor (or immediately when
// ScheduledFor is zero). If a job already exists for the post, it is replaced
// rather than duplicated; a job a worker has already claimed cannot be
// replaced and the call fails with conflict_already_queued. On success the
// post is flipped to scheduled.
//
// Validation failures have no side effects: nothing is enqueued, no index or
// post row is touched.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (*ScheduleReceipt, error) {
	delay, err := s.validateSchedule(in.OwnerID, in.PostID, in.Content, in.ScheduledFor)
	if err != nil {
		return nil, err
	}

	// The post must exist and belong to the owner before anything is queued.
	post, err := s.posts.GetByIDAndOwner(ctx, in.OwnerID, in.PostID)
	if err != nil {
		return nil, err
	}
	if post.Status == types.PostStatusPublished {
		return nil, types.NewAppError(
			types.ErrCodeConflictStatus,
			"post is already published",
			nil,
		)
	}

	// Replace any existing job so at most one live job exists per post.
	if existing, err := s.index.Get(ctx, in.OwnerID, in.PostID); err != nil {
		return nil, err
	} else if existing != "" {
		if err := s.queue.Remove(ctx, existing); err != nil {
			if !queue.IsNotFound(err) {
				return nil, fmt.Errorf("removing superseded job %s: %w", existing, err)
			}
			// Remove reports not found both for jobs that are gone and for
			// jobs a worker has already claimed. Only the former may be
			// superseded; enqueueing over a running job would break the
			// one-live-job invariant.
			job, getErr := s.queue.GetJob(ctx, existing)
			if getErr != nil {
				return nil, getErr
			}
			if job != nil {
				return nil, types.NewAppError(
					types.ErrCodeConflictAlreadyQueued,
					"publication is already in progress",
					nil,
				)
			}
		}
		s.logger.InfoContext(ctx, "replaced existing publish job",
			"owner_id", in.OwnerID,
			"post_id", in.PostID,
			"old_job_id", existing,
		)
	}

	payload := types.PublishJobPayload{
		OwnerID:     in.OwnerID,
		PostID:      in.PostID,
		Content:     in.Content,
		DocumentURN: in.DocumentURN,
	}
	body, err := payload.Marshal()
	if err != nil {
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, types.PublishQueueName, body, queue.Options{Delay: delay})
	if err != nil {
		return nil, err
	}

	if err := s.index.Save(ctx, in.OwnerID, in.PostID, jobID); err != nil {
		// The job is live but untracked; remove it so the invariant holds.
		if rmErr := s.queue.Remove(ctx, jobID); rmErr != nil && !queue.IsNotFound(rmErr) {
			s.logger.ErrorContext(ctx, "failed to roll back orphaned job",
				"job_id", jobID, "error", rmErr)
		}
		return nil, err
	}

	if err := s.posts.MarkScheduled(ctx, in.OwnerID, in.PostID, in.ScheduledFor); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "post scheduled",
		"owner_id", in.OwnerID,
		"post_id", in.PostID,
		"job_id", jobID,
		"delay", delay,
	)

	return &ScheduleReceipt{
		JobID:        jobID,
		OwnerID:      in.OwnerID,
		PostID:       in.PostID,
		ScheduledFor: in.ScheduledFor,
	}, nil
}

// Reschedule moves an existing publish job to a new time and/or new content.
// The replacement is ordered so no window exists in which the post has zero
// jobs: the new job is enqueued first, the index is swapped to point at it,
// and only then is the old job removed.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (*ScheduleReceipt, error) {
	if in.OwnerID == "" || in.PostID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"owner_id and post_id are required",
			nil,
		)
	}
	if !in.ScheduledFor.IsZero() && !in.ScheduledFor.After(time.Now()) {
		return nil, types.NewAppError(
			types.ErrCodeValidationPastTime,
			"scheduled_time must be in the future",
			nil,
		)
	}

	oldJobID, err := s.index.Get(ctx, in.OwnerID, in.PostID)
	if err != nil {
		return nil, err
	}
	if oldJobID == "" {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundJobIndex,
			"post has no scheduled publication",
			nil,
		)
	}

	oldJob, err := s.queue.GetJob(ctx, oldJobID)
	if err != nil {
		return nil, err
	}
	if oldJob == nil || !oldJob.Removable() {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundJob,
			"scheduled publication no longer exists or is already running",
			nil,
		)
	}

	oldPayload, err := types.UnmarshalPublishJobPayload(oldJob.Payload)
	if err != nil {
		return nil, err
	}

	// Merge: explicit input fields win, everything else carries over.
	merged := *oldPayload
	if in.Content != "" {
		merged.Content = in.Content
	}
	if in.DocumentURN != "" {
		merged.DocumentURN = in.DocumentURN
	}

	scheduledFor := in.ScheduledFor
	var delay time.Duration
	if scheduledFor.IsZero() {
		// Keep the old delivery time.
		scheduledFor = oldJob.RunAfter
		if remaining := time.Until(oldJob.RunAfter); remaining > 0 {
			delay = remaining
		}
	} else {
		delay = time.Until(scheduledFor)
	}

	body, err := merged.Marshal()
	if err != nil {
		return nil, err
	}

	newJobID, err := s.queue.Enqueue(ctx, types.PublishQueueName, body, queue.Options{Delay: delay})
	if err != nil {
		return nil, err
	}

	if err := s.index.Save(ctx, in.OwnerID, in.PostID, newJobID); err != nil {
		if rmErr := s.queue.Remove(ctx, newJobID); rmErr != nil && !queue.IsNotFound(rmErr) {
			s.logger.ErrorContext(ctx, "failed to roll back replacement job",
				"job_id", newJobID, "error", rmErr)
		}
		return nil, err
	}

	// Old job removal is last; if it fails after the index swap, the orphan
	// is unreferenced and harmless to the index, but it would still publish.
	// Surface the error so the caller can retry the reschedule.
	if err := s.queue.Remove(ctx, oldJobID); err != nil && !queue.IsNotFound(err) {
		return nil, fmt.Errorf("removing superseded job %s: %w", oldJobID, err)
	}

	if err := s.posts.MarkScheduled(ctx, in.OwnerID, in.PostID, scheduledFor); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "post rescheduled",
		"owner_id", in.OwnerID,
		"post_id", in.PostID,
		"old_job_id", oldJobID,
		"new_job_id", newJobID,
	)

	return &ScheduleReceipt{
		JobID:        newJobID,
		OwnerID:      in.OwnerID,
		PostID:       in.PostID,
		ScheduledFor: scheduledFor,
	}, nil
}

// Cancel withdraws a pending publication. The index entry is always deleted,
// even when the queue job has already gone (delivered or removed elsewhere),
// so the index cannot point at a dead job. On success the post returns to
// saved.
func (s *Service) Cancel(ctx context.Context, ownerID, postID string) error {
	if ownerID == "" || postID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"owner_id and post_id are required",
			nil,
		)
	}

	jobID, err := s.index.Get(ctx, ownerID, postID)
	if err != nil {
		return err
	}
	if jobID == "" {
		// Index drift: the entry may be missing while a job still lives.
		jobs, err := s.queue.FindByPayload(ctx, types.PublishQueueName, ownerID, postID)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return types.NewAppError(
				types.ErrCodeNotFoundJobIndex,
				"post has no scheduled publication",
				nil,
			)
		}
		for _, j := range jobs {
			if err := s.queue.Remove(ctx, j.ID); err != nil && !queue.IsNotFound(err) {
				return err
			}
		}
		s.logger.WarnContext(ctx, "cancelled unindexed publish jobs",
			"owner_id", ownerID, "post_id", postID, "count", len(jobs))
	} else {
		if err := s.queue.Remove(ctx, jobID); err != nil && !queue.IsNotFound(err) {
			return err
		}
	}

	if err := s.index.Delete(ctx, ownerID, postID); err != nil {
		return err
	}

	if err := s.posts.ClearSchedule(ctx, ownerID, postID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "publication cancelled",
		"owner_id", ownerID, "post_id", postID)
	return nil
}

// CancelForDeletion is the best-effort cancel used by the post-deletion flow.
// It never blocks the deletion: queue and index misses are fine, and failures
// are logged rather than returned.
func (s *Service) CancelForDeletion(ctx context.Context, ownerID, postID string) {
	jobID, err := s.index.Get(ctx, ownerID, postID)
	if err != nil {
		s.logger.WarnContext(ctx, "pre-delete cancel: index lookup failed",
			"owner_id", ownerID, "post_id", postID, "error", err)
	}

	if jobID != "" {
		if err := s.queue.Remove(ctx, jobID); err != nil && !queue.IsNotFound(err) {
			s.logger.WarnContext(ctx, "pre-delete cancel: job removal failed",
				"owner_id", ownerID, "post_id", postID, "job_id", jobID, "error", err)
		}
	} else {
		jobs, err := s.queue.FindByPayload(ctx, types.PublishQueueName, ownerID, postID)
		if err != nil {
			s.logger.WarnContext(ctx, "pre-delete cancel: queue scan failed",
				"owner_id", ownerID, "post_id", postID, "error", err)
		}
		for _, j := range jobs {
			if err := s.queue.Remove(ctx, j.ID); err != nil && !queue.IsNotFound(err) {
				s.logger.WarnContext(ctx, "pre-delete cancel: job removal failed",
					"owner_id", ownerID, "post_id", postID, "job_id", j.ID, "error", err)
			}
		}
	}

	if err := s.index.Delete(ctx, ownerID, postID); err != nil {
		s.logger.WarnContext(ctx, "pre-delete cancel: index delete failed",
			"owner_id", ownerID, "post_id", postID, "error", err)
	}
}

// validateSchedule checks schedule inputs and returns the enqueue delay.
func (s *Service) validateSchedule(ownerID, postID, content string, scheduledFor time.Time) (time.Duration, error) {
	if ownerID == "" || postID == "" {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"owner_id and post_id are required",
			nil,
		)
	}
	if content == "" {
		return 0, types.NewAppError(
			types.ErrCodeValidationEmptyContent,
			"content must not be empty",
			nil,
		)
	}
	if scheduledFor.IsZero() {
		return 0, nil
	}
	delay := time.Until(scheduledFor)
	if delay <= 0 {
		return 0, types.NewAppError(
			types.ErrCodeValidationPastTime,
			"scheduled_time must be in the future",
			nil,
		)
	}
	return delay, nil
}
