// Package types defines the shared domain model for the postwire platform:
// posts and their lifecycle states, delayed queue jobs, the job index entry
// that ties the two together, and the application error taxonomy.
package types

import "time"

// PostStatus is the lifecycle state of a post.
//
// Transitions are one-way and guarded:
//
//	saved -> scheduled   (scheduler, when a publish job is enqueued)
//	scheduled -> published (publish worker, after a successful delivery)
//
// A scheduled post that is cancelled returns to saved. No other transitions
// exist; in particular a post is never resurrected to published after
// deletion or cancellation (the worker's status flip is conditional on the
// post still being scheduled).
type PostStatus string

const (
	PostStatusSaved     PostStatus = "saved"
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPublished PostStatus = "published"
)

// Valid reports whether s is one of the known post statuses.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusSaved, PostStatusScheduled, PostStatusPublished:
		return true
	}
	return false
}

// Post is the durable record of a composed post. The scheduler treats
// Content as opaque (a serialized rich-text document); it only carries it
// to the publish worker.
type Post struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Status      PostStatus `json:"status"`
	Content     string     `json:"content"`
	DocumentURN string     `json:"document_urn,omitempty"`
	// ScheduledFor is the UTC instant at which delivery should be attempted.
	// Zero when the post has never been scheduled.
	ScheduledFor time.Time `json:"scheduled_for,omitzero"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobState is the queue-internal state of a delayed job.
//
//	delayed -> waiting -> active -> completed
//	                            \-> delayed (retry with backoff)
//	                            \-> failed  (attempts exhausted)
//
// Jobs in delayed or waiting state may be removed by callers; an active or
// terminal job cannot.
type JobState string

const (
	JobStateDelayed   JobState = "delayed"
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// QueueJob is a row in the delayed job queue. Payload is an opaque JSON
// document; for the "post" queue it is a serialized PublishJobPayload.
type QueueJob struct {
	ID          string    `json:"id"`
	Queue       string    `json:"queue"`
	State       JobState  `json:"state"`
	Payload     []byte    `json:"payload"`
	RunAfter    time.Time `json:"run_after"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	ClaimedAt   time.Time `json:"claimed_at,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Removable reports whether the job is still in a state where a caller may
// remove it from the queue (not yet claimed by a worker, not terminal).
func (j *QueueJob) Removable() bool {
	return j.State == JobStateDelayed || j.State == JobStateWaiting
}

// JobIndexEntry maps a domain key (owner, post) to the queue's opaque job
// identifier. The queue is not efficiently searchable by payload fields, so
// this side index is the only O(1) way to recover "which queued job belongs
// to this post" for reschedule and cancel.
//
// Invariant: at most one live queue job exists per (OwnerID, PostID). Every
// path that enqueues a publish job either proves no prior job exists or
// removes the old one first.
type JobIndexEntry struct {
	OwnerID   string    `json:"owner_id"`
	PostID    string    `json:"post_id"`
	JobID     string    `json:"job_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
