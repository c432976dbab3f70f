package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"postwire/internal/config"
	"postwire/internal/types"
)

// publishPath is the provider endpoint that creates a post.
const publishPath = "/v2/posts"

// PublishRequest is the outbound payload delivered to the publishing
// provider. Text is the formatted post content; DocumentURN optionally
// references media previously uploaded to the provider.
type PublishRequest struct {
	Author      string `json:"author"`
	Text        string `json:"text"`
	DocumentURN string `json:"document_urn,omitempty"`
}

// PublishResult carries the provider-assigned identifier of the created post.
type PublishResult struct {
	ProviderPostID string `json:"id"`
}

// PublishClient is the outbound integration with the publishing provider.
// It is the unit of work for the queue's retry policy: one Publish call per
// delivery attempt, with a bounded per-call timeout.
type PublishClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
}

// NewPublishClient creates a PublishClient from the publisher configuration.
// The underlying http.Client carries the configured timeout so a hung
// provider cannot stall a worker indefinitely.
func NewPublishClient(cfg config.PublisherConfig, opts ...BaseClientOption) *PublishClient {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &PublishClient{
		base:    NewBaseClient(httpClient, "publisher", DefaultRetryPolicy(), cfg.UserAgent, opts...),
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
	}
}

// NewPublishClientWithBase creates a PublishClient around a caller-provided
// BaseClient. Used by tests to inject a non-sleeping client.
func NewPublishClientWithBase(base *BaseClient, baseURL string, token types.SecretString) *PublishClient {
	return &PublishClient{base: base, baseURL: baseURL, token: token}
}

// Publish delivers the post content to the provider and returns the
// provider-assigned post id.
//
// Error mapping:
//   - 2xx: success.
//   - 4xx: upstream_publisher_rejected -- the provider will never accept this
//     payload, so the caller should fail the job terminally instead of retrying.
//   - 429/5xx/network: upstream_publisher_unavailable or upstream_rate_limited
//     via BaseClient -- retryable by the queue.
func (c *PublishClient) Publish(ctx context.Context, pub PublishRequest) (*PublishResult, error) {
	body, err := json.Marshal(pub)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal publish request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+publishPath, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build publish request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result PublishResult
		if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
			return nil, types.NewAppError(
				types.ErrCodeUpstreamPublisher,
				"provider returned an unreadable success response",
				decodeErr,
			)
		}
		return &result, nil
	}

	// 4xx other than 429: the provider rejected the payload. Retrying cannot
	// help, so surface a terminal rejection.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return nil, types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamRejected,
		fmt.Sprintf("provider rejected publish with status %d", resp.StatusCode),
		nil,
		map[string]any{"status": resp.StatusCode, "body": string(snippet)},
	)
}

// IsTerminalPublishError reports whether err means the provider will never
// accept the payload. The worker fails such jobs without further retries.
func IsTerminalPublishError(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeUpstreamRejected
}
