package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwire/internal/core"
	"postwire/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockPostRepo struct {
	createFn        func(ctx context.Context, p *types.Post) error
	getFn           func(ctx context.Context, ownerID, postID string) (*types.Post, error)
	updateContentFn func(ctx context.Context, ownerID, postID, content, documentURN string) error
	deleteFn        func(ctx context.Context, ownerID, postID string) error

	lastCreated *types.Post
	deleteCalls [][2]string
}

func (m *mockPostRepo) Create(ctx context.Context, p *types.Post) error {
	m.lastCreated = p
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (m *mockPostRepo) GetByIDAndOwner(ctx context.Context, ownerID, postID string) (*types.Post, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID, postID)
	}
	return &types.Post{
		ID:        postID,
		OwnerID:   ownerID,
		Status:    types.PostStatusSaved,
		Content:   "stored content",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (m *mockPostRepo) UpdateContent(ctx context.Context, ownerID, postID, content, documentURN string) error {
	if m.updateContentFn != nil {
		return m.updateContentFn(ctx, ownerID, postID, content, documentURN)
	}
	return nil
}

func (m *mockPostRepo) Delete(ctx context.Context, ownerID, postID string) error {
	m.deleteCalls = append(m.deleteCalls, [2]string{ownerID, postID})
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, postID)
	}
	return nil
}

type mockCanceller struct {
	calls [][2]string
}

func (m *mockCanceller) CancelForDeletion(ctx context.Context, ownerID, postID string) {
	m.calls = append(m.calls, [2]string{ownerID, postID})
}

func newTestPostHandler() (*PostHandler, *mockPostRepo, *mockCanceller) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &mockPostRepo{}
	canceller := &mockCanceller{}
	return NewPostHandler(repo, canceller, core.NewValidator(logger), logger), repo, canceller
}

// postRouter mounts the handler the way the server does, so URL parameters
// resolve through chi.
func postRouter(h *PostHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// =============================================================================
// Create Tests
// =============================================================================

func TestPostHandler_Create_Success(t *testing.T) {
	handler, repo, _ := newTestPostHandler()

	body := []byte(`{"user_id":"usr_1","content":"draft text","document_urn":"urn:doc:42"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/posts", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	created := repo.lastCreated
	require.NotNil(t, created)
	assert.True(t, strings.HasPrefix(created.ID, "post_"))
	assert.Equal(t, "usr_1", created.OwnerID)
	assert.Equal(t, types.PostStatusSaved, created.Status)
	assert.Equal(t, "draft text", created.Content)
	assert.Equal(t, "urn:doc:42", created.DocumentURN)

	var resp struct {
		Data types.Post `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, created.ID, resp.Data.ID)
}

func TestPostHandler_Create_MissingContent(t *testing.T) {
	handler, repo, _ := newTestPostHandler()

	body := []byte(`{"user_id":"usr_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/posts", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, repo.lastCreated)
}

func TestPostHandler_Create_RepoErrorMapped(t *testing.T) {
	handler, repo, _ := newTestPostHandler()
	repo.createFn = func(ctx context.Context, p *types.Post) error {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create post", nil)
	}

	body := []byte(`{"user_id":"usr_1","content":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/posts", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// =============================================================================
// Get Tests
// =============================================================================

func TestPostHandler_Get_Success(t *testing.T) {
	handler, _, _ := newTestPostHandler()
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/posts/post_abc?user_id=usr_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data types.Post `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "post_abc", resp.Data.ID)
	assert.Equal(t, "usr_1", resp.Data.OwnerID)
}

func TestPostHandler_Get_MissingUserID(t *testing.T) {
	handler, _, _ := newTestPostHandler()
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/posts/post_abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr.Body))
}

func TestPostHandler_Get_NotFound(t *testing.T) {
	handler, repo, _ := newTestPostHandler()
	repo.getFn = func(ctx context.Context, ownerID, postID string) (*types.Post, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/posts/post_missing?user_id=usr_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// Update Tests
// =============================================================================

func TestPostHandler_Update_Success(t *testing.T) {
	handler, repo, _ := newTestPostHandler()
	var gotContent, gotURN string
	repo.updateContentFn = func(ctx context.Context, ownerID, postID, content, documentURN string) error {
		gotContent, gotURN = content, documentURN
		return nil
	}
	router := postRouter(handler)

	body := []byte(`{"user_id":"usr_1","content":"new text","document_urn":"urn:doc:7"}`)
	req := httptest.NewRequest(http.MethodPut, "/posts/post_abc", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "new text", gotContent)
	assert.Equal(t, "urn:doc:7", gotURN)
}

func TestPostHandler_Update_UnknownPost(t *testing.T) {
	handler, repo, _ := newTestPostHandler()
	repo.updateContentFn = func(ctx context.Context, ownerID, postID, content, documentURN string) error {
		return types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	router := postRouter(handler)

	body := []byte(`{"user_id":"usr_1","content":"new text"}`)
	req := httptest.NewRequest(http.MethodPut, "/posts/post_missing", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestPostHandler_Delete_CancelsScheduleFirst(t *testing.T) {
	handler, repo, canceller := newTestPostHandler()
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/posts/post_abc?user_id=usr_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, canceller.calls, 1)
	assert.Equal(t, [2]string{"usr_1", "post_abc"}, canceller.calls[0])
	require.Len(t, repo.deleteCalls, 1)
	assert.Equal(t, [2]string{"usr_1", "post_abc"}, repo.deleteCalls[0])
}

func TestPostHandler_Delete_MissingUserID(t *testing.T) {
	handler, repo, canceller := newTestPostHandler()
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/posts/post_abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, canceller.calls)
	assert.Empty(t, repo.deleteCalls)
}

func TestPostHandler_Delete_UnknownPost(t *testing.T) {
	handler, repo, canceller := newTestPostHandler()
	repo.deleteFn = func(ctx context.Context, ownerID, postID string) error {
		return types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/posts/post_missing?user_id=usr_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// The cancel still runs; only the row delete reports the miss.
	assert.Equal(t, http.StatusNotFound, rr.Code)
	require.Len(t, canceller.calls, 1)
}

func TestPostHandler_RegisterRoutes_MountsAll(t *testing.T) {
	handler, _, _ := newTestPostHandler()
	router := postRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/posts", bytes.NewReader([]byte(`{"user_id":"u","content":"c"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)
}
