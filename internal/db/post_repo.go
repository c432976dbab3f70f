package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"postwire/internal/types"
)

// PostRepository provides data access for the posts table. All operations are
// scoped by (owner_id, id): a post is never visible outside its owner.
type PostRepository struct {
	db DBTX
}

// NewPostRepository creates a new PostRepository backed by the given database
// connection (pool or transaction).
func NewPostRepository(db DBTX) *PostRepository {
	return &PostRepository{db: db}
}

// postColumns defines the standard set of columns selected for post queries.
const postColumns = `id, owner_id, status, content, document_urn, scheduled_for, created_at, updated_at`

// scanPost scans a single post row. The columns must match postColumns order.
func scanPost(row pgx.Row) (*types.Post, error) {
	var p types.Post
	var (
		documentURN  *string
		scheduledFor *time.Time
	)

	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Status,
		&p.Content,
		&documentURN,
		&scheduledFor,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if documentURN != nil {
		p.DocumentURN = *documentURN
	}
	if scheduledFor != nil {
		p.ScheduledFor = *scheduledFor
	}
	return &p, nil
}

// Create inserts a new post record with status 'saved'. The caller supplies
// the ID; it is stable identity across save/schedule/publish.
func (r *PostRepository) Create(ctx context.Context, p *types.Post) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO posts (id, owner_id, status, content, document_urn)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		p.ID,
		p.OwnerID,
		string(types.PostStatusSaved),
		p.Content,
		nilIfEmpty(p.DocumentURN),
	)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create post", err)
	}
	p.Status = types.PostStatusSaved
	return nil
}

// GetByIDAndOwner fetches a single post scoped by owner. A missing row is
// reported as not_found_post, not as an internal error.
func (r *PostRepository) GetByIDAndOwner(ctx context.Context, ownerID, postID string) (*types.Post, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE owner_id = $1 AND id = $2`,
		ownerID, postID,
	)

	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get post", err)
	}
	return p, nil
}

// UpdateContent replaces a post's content and document reference. Touches
// updated_at.
func (r *PostRepository) UpdateContent(ctx context.Context, ownerID, postID, content, documentURN string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts SET content = $1, document_urn = $2, updated_at = NOW()
		 WHERE owner_id = $3 AND id = $4`,
		content,
		nilIfEmpty(documentURN),
		ownerID,
		postID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update post content", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	return nil
}

// MarkScheduled flips a 'saved' post to 'scheduled' and records the target
// instant. A zero scheduledFor ("publish as soon as possible") stores NULL
// rather than the zero time. The WHERE clause conditions the flip on the
// current status so a concurrently published or already-scheduled post is
// not silently overwritten; zero rows is surfaced as a conflict.
func (r *PostRepository) MarkScheduled(ctx context.Context, ownerID, postID string, scheduledFor time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts SET status = $1, scheduled_for = $2, updated_at = NOW()
		 WHERE owner_id = $3 AND id = $4 AND status IN ($5, $1)`,
		string(types.PostStatusScheduled),
		nilIfZeroTime(scheduledFor),
		ownerID,
		postID,
		string(types.PostStatusSaved),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark post scheduled", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictStatus, "post is not in a schedulable state", nil)
	}
	return nil
}

// UpdateStatusIf performs a conditional status transition: the row is updated
// only if its current status equals from. Returns flipped=false (and no
// error) when the condition did not hold -- callers such as the publish
// worker treat that as "post was cancelled or deleted underneath us", which
// is an expected outcome, not a failure.
func (r *PostRepository) UpdateStatusIf(ctx context.Context, ownerID, postID string, from, to types.PostStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE posts SET status = $1, updated_at = NOW()
		 WHERE owner_id = $2 AND id = $3 AND status = $4`,
		string(to),
		ownerID,
		postID,
		string(from),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update post status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearSchedule returns a 'scheduled' post to 'saved' and clears its target
// instant. Used by the cancel flow after the queue job is removed. Zero rows
// is tolerated: the post may have been published or deleted meanwhile.
func (r *PostRepository) ClearSchedule(ctx context.Context, ownerID, postID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE posts SET status = $1, scheduled_for = NULL, updated_at = NOW()
		 WHERE owner_id = $2 AND id = $3 AND status = $4`,
		string(types.PostStatusSaved),
		ownerID,
		postID,
		string(types.PostStatusScheduled),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear post schedule", err)
	}
	return nil
}

// Delete removes a post row. The caller (handler layer) is responsible for
// running the cancel-on-delete flow first so no orphaned queue job survives.
func (r *PostRepository) Delete(ctx context.Context, ownerID, postID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM posts WHERE owner_id = $1 AND id = $2`,
		ownerID, postID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete post", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	return nil
}
