// Package queue implements the durable delayed job queue backing scheduled
// post publication. Jobs are rows in the queue_jobs table; a job becomes
// visible to workers once its run_after instant has passed, and workers claim
// jobs with FOR UPDATE SKIP LOCKED so a matured job is delivered to exactly
// one active worker at a time.
//
// Delivery is at-least-once: a worker that crashes mid-processing holds its
// claim only until the claim timeout elapses, after which the job is
// re-claimable. All retry policy lives here -- consumers report failure via
// Fail and never keep their own retry counters.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"postwire/internal/config"
	"postwire/internal/db"
	"postwire/internal/types"
)

// maxRetryBackoff caps the exponential backoff so late attempts of a
// many-attempt policy are not delayed into the next day.
const maxRetryBackoff = 1 * time.Hour

// Options configures a single enqueue.
type Options struct {
	// Delay is the duration from enqueue time to earliest execution time.
	// Zero means "publish as soon as possible".
	Delay time.Duration
}

// Queue is the Postgres-backed delayed job queue. It is shared by the API
// process (enqueue/lookup/remove) and the publish worker (claim/complete/fail).
type Queue struct {
	db     db.DBTX
	cfg    config.QueueConfig
	logger *slog.Logger
}

// New creates a Queue backed by the given database handle.
func New(dbtx db.DBTX, cfg config.QueueConfig, logger *slog.Logger) *Queue {
	return &Queue{
		db:     dbtx,
		cfg:    cfg,
		logger: logger,
	}
}

// jobColumns is the standard column set for queue job queries.
const jobColumns = `id, queue, state, payload, run_after, attempts, max_attempts,
	last_error, claimed_by, claimed_at, created_at, updated_at`

// scanJob scans a single queue job row. Columns must match jobColumns order.
func scanJob(row pgx.Row) (*types.QueueJob, error) {
	var j types.QueueJob
	var (
		lastError *string
		claimedBy *string
		claimedAt *time.Time
	)

	err := row.Scan(
		&j.ID,
		&j.Queue,
		&j.State,
		&j.Payload,
		&j.RunAfter,
		&j.Attempts,
		&j.MaxAttempts,
		&lastError,
		&claimedBy,
		&claimedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError != nil {
		j.LastError = *lastError
	}
	if claimedBy != nil {
		j.ClaimedBy = *claimedBy
	}
	if claimedAt != nil {
		j.ClaimedAt = *claimedAt
	}
	return &j, nil
}

// Enqueue inserts a new job on the named queue, visible to workers after
// opts.Delay has elapsed. Returns the queue-assigned job id, which is opaque
// to callers and only meaningful back to this package.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error) {
	if queue == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "queue name must not be empty", nil)
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	jobID := "job_" + uuid.New().String()
	state := types.JobStateDelayed
	if opts.Delay == 0 {
		state = types.JobStateWaiting
	}
	runAfter := time.Now().UTC().Add(opts.Delay)

	_, err := q.db.Exec(ctx,
		`INSERT INTO queue_jobs (id, queue, state, payload, run_after, max_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		jobID,
		queue,
		string(state),
		payload,
		runAfter,
		q.cfg.MaxAttempts,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue job", err)
	}

	q.logger.InfoContext(ctx, "job enqueued",
		"queue", queue,
		"job_id", jobID,
		"delay", opts.Delay.String(),
		"run_after", runAfter.Format(time.RFC3339),
	)

	return jobID, nil
}

// GetJob looks up a job by id. Absence is reported as (nil, nil): callers
// such as cancel treat a missing job as tolerated drift, not a failure.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*types.QueueJob, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to get job", err)
	}
	return j, nil
}

// Remove deletes a job that is still waiting or delayed. Removing a job that
// does not exist, or that a worker has already claimed, returns
// not_found_job -- callers must tolerate it (the cancel flow does).
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM queue_jobs
		 WHERE id = $1 AND state IN ($2, $3)`,
		jobID,
		string(types.JobStateDelayed),
		string(types.JobStateWaiting),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to remove job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job not found or no longer removable", nil)
	}

	q.logger.InfoContext(ctx, "job removed", "job_id", jobID)
	return nil
}

// Receive claims the next matured job on the named queue for workerID,
// flipping it to active and incrementing its attempt counter. Returns
// (nil, nil) when no job has matured.
//
// The claim subquery uses FOR UPDATE SKIP LOCKED so concurrent workers never
// block on, or double-claim, the same row. A job stuck in active past the
// claim timeout (worker crash) is treated as unclaimed and handed out again.
func (q *Queue) Receive(ctx context.Context, queue, workerID string) (*types.QueueJob, error) {
	now := time.Now().UTC()
	staleClaim := now.Add(-q.cfg.ClaimTimeout)

	row := q.db.QueryRow(ctx, `
		UPDATE queue_jobs SET
			state = $1,
			attempts = attempts + 1,
			claimed_by = $2,
			claimed_at = $3,
			updated_at = $3
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE queue = $4
			  AND (
				(state IN ($5, $6) AND run_after <= $3)
				OR (state = $1 AND claimed_at <= $7)
			  )
			ORDER BY run_after
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(types.JobStateActive),
		workerID,
		now,
		queue,
		string(types.JobStateDelayed),
		string(types.JobStateWaiting),
		staleClaim,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to claim job", err)
	}

	q.logger.InfoContext(ctx, "job claimed",
		"queue", queue,
		"job_id", j.ID,
		"worker_id", workerID,
		"attempt", j.Attempts,
	)

	return j, nil
}

// Complete marks an active job as completed. Completing a job that is not
// active is a conflict: it means another worker's stale claim was reassigned.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE queue_jobs SET state = $1, updated_at = NOW()
		 WHERE id = $2 AND state = $3`,
		string(types.JobStateCompleted),
		jobID,
		string(types.JobStateActive),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictJobState, "job is not active", nil)
	}
	return nil
}

// Fail records a delivery failure for an active job. While attempts remain,
// the job is re-delayed with exponential backoff and retrying=true is
// returned; once attempts are exhausted the job moves to the terminal failed
// state.
func (q *Queue) Fail(ctx context.Context, jobID, reason string) (retrying bool, err error) {
	var attempts, maxAttempts int
	scanErr := q.db.QueryRow(ctx,
		`SELECT attempts, max_attempts FROM queue_jobs WHERE id = $1`,
		jobID,
	).Scan(&attempts, &maxAttempts)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return false, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
		}
		return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to read job attempts", scanErr)
	}

	if attempts < maxAttempts {
		backoff := q.backoffForAttempt(attempts)
		_, execErr := q.db.Exec(ctx,
			`UPDATE queue_jobs SET
				state = $1,
				run_after = $2,
				last_error = $3,
				claimed_by = NULL,
				claimed_at = NULL,
				updated_at = NOW()
			 WHERE id = $4`,
			string(types.JobStateDelayed),
			time.Now().UTC().Add(backoff),
			reason,
			jobID,
		)
		if execErr != nil {
			return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to re-delay job", execErr)
		}

		q.logger.WarnContext(ctx, "job failed, will retry",
			"job_id", jobID,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"backoff", backoff.String(),
			"reason", reason,
		)
		return true, nil
	}

	_, execErr := q.db.Exec(ctx,
		`UPDATE queue_jobs SET
			state = $1,
			last_error = $2,
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = NOW()
		 WHERE id = $3`,
		string(types.JobStateFailed),
		reason,
		jobID,
	)
	if execErr != nil {
		return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to mark job failed", execErr)
	}

	q.logger.ErrorContext(ctx, "job permanently failed",
		"job_id", jobID,
		"attempts", attempts,
		"reason", reason,
	)
	return false, nil
}

// Discard moves a job straight to the terminal failed state regardless of
// remaining attempts. Used for non-retryable failures: malformed payloads and
// deliveries the provider permanently rejected.
func (q *Queue) Discard(ctx context.Context, jobID, reason string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE queue_jobs SET
			state = $1,
			last_error = $2,
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = NOW()
		 WHERE id = $3`,
		string(types.JobStateFailed),
		reason,
		jobID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to discard job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}

	q.logger.ErrorContext(ctx, "job discarded",
		"job_id", jobID,
		"reason", reason,
	)
	return nil
}

// backoffForAttempt computes the re-delay for a failed attempt (1-based):
// RetryBackoff * 2^(attempt-1), capped at maxRetryBackoff.
func (q *Queue) backoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := q.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

// FindByPayload scans the named queue's live (delayed/waiting/active) jobs
// for publish payloads matching (ownerID, postID). This is the degraded-mode
// repair path for drift between the job index and the queue; it is a linear
// scan and must never be used as a normal lookup.
func (q *Queue) FindByPayload(ctx context.Context, queue, ownerID, postID string) ([]*types.QueueJob, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs
		 WHERE queue = $1
		   AND state IN ($2, $3, $4)
		   AND payload->>'owner_id' = $5
		   AND payload->>'post_id' = $6`,
		queue,
		string(types.JobStateDelayed),
		string(types.JobStateWaiting),
		string(types.JobStateActive),
		ownerID,
		postID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan jobs by payload", err)
	}
	defer rows.Close()

	var jobs []*types.QueueJob
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to scan job row", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "error iterating job rows", err)
	}

	return jobs, nil
}

// IsNotFound reports whether err is the queue's not_found_job error. Cancel
// flows use this to tolerate already-gone jobs.
func IsNotFound(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundJob
}
