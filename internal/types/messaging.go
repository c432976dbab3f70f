package types

import (
	"encoding/json"
	"fmt"
)

// PublishQueueName is the delayed queue carrying all scheduled publish jobs.
const PublishQueueName = "post"

// PublishJobPayload is the body of a job on the "post" queue. It carries
// enough for the publish worker to act without re-reading the post store,
// though the worker still re-reads for the conditional status flip.
type PublishJobPayload struct {
	OwnerID     string `json:"owner_id"`
	PostID      string `json:"post_id"`
	Content     string `json:"content"`
	DocumentURN string `json:"document_urn,omitempty"`
}

// Validate checks that the payload carries the fields the worker cannot
// proceed without.
func (p *PublishJobPayload) Validate() error {
	if p.OwnerID == "" {
		return NewAppError(ErrCodeValidationMissingField, "publish payload missing owner_id", nil)
	}
	if p.PostID == "" {
		return NewAppError(ErrCodeValidationMissingField, "publish payload missing post_id", nil)
	}
	if p.Content == "" {
		return NewAppError(ErrCodeValidationEmptyContent, "publish payload missing content", nil)
	}
	return nil
}

// Marshal serializes the payload to the JSON form stored in the queue.
func (p *PublishJobPayload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal publish payload: %w", err)
	}
	return b, nil
}

// UnmarshalPublishJobPayload parses a queue job payload. A parse failure is
// permanent: the job can never succeed, so callers should fail it terminally
// rather than retry.
func UnmarshalPublishJobPayload(data []byte) (*PublishJobPayload, error) {
	var p PublishJobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal publish payload: %w", err)
	}
	return &p, nil
}
