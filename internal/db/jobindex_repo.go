package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"postwire/internal/types"
)

// JobIndexRepository provides data access for the job_index table: the
// key-value mapping from (owner_id, post_id) to the delayed queue's opaque
// job id.
//
// The backing store is assumed always-available; when it is not, callers
// (the scheduler) fail closed rather than enqueue a job the system could no
// longer find.
type JobIndexRepository struct {
	db DBTX
}

// NewJobIndexRepository creates a new JobIndexRepository backed by the given
// database connection (pool or transaction).
func NewJobIndexRepository(db DBTX) *JobIndexRepository {
	return &JobIndexRepository{db: db}
}

// Save upserts the mapping for (ownerID, postID), overwriting any existing
// job id. Idempotent.
func (r *JobIndexRepository) Save(ctx context.Context, ownerID, postID, jobID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO job_index (owner_id, post_id, job_id, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (owner_id, post_id)
		 DO UPDATE SET job_id = EXCLUDED.job_id, updated_at = NOW()`,
		ownerID, postID, jobID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save job index entry", err)
	}
	return nil
}

// Get returns the job id mapped to (ownerID, postID). Absence is a normal,
// expected outcome (post never scheduled, or already published/cancelled) and
// is reported as ("", nil), not as an error.
func (r *JobIndexRepository) Get(ctx context.Context, ownerID, postID string) (string, error) {
	var jobID string
	err := r.db.QueryRow(ctx,
		`SELECT job_id FROM job_index WHERE owner_id = $1 AND post_id = $2`,
		ownerID, postID,
	).Scan(&jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to get job index entry", err)
	}
	return jobID, nil
}

// Delete removes the mapping for (ownerID, postID). Deleting an absent key is
// not an error. Idempotent.
func (r *JobIndexRepository) Delete(ctx context.Context, ownerID, postID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_index WHERE owner_id = $1 AND post_id = $2`,
		ownerID, postID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete job index entry", err)
	}
	return nil
}
