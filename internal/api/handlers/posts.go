package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"postwire/internal/core"
	"postwire/internal/types"
)

// PostRepo defines the data access contract for post operations. Mirrors the
// concrete db.PostRepository methods used by this handler.
type PostRepo interface {
	Create(ctx context.Context, p *types.Post) error
	GetByIDAndOwner(ctx context.Context, ownerID, postID string) (*types.Post, error)
	UpdateContent(ctx context.Context, ownerID, postID, content, documentURN string) error
	Delete(ctx context.Context, ownerID, postID string) error
}

// ScheduleCanceller withdraws any pending publication before a post row is
// removed. Failures are absorbed by the implementation; the delete proceeds
// regardless.
type ScheduleCanceller interface {
	CancelForDeletion(ctx context.Context, ownerID, postID string)
}

// CreatePostRequest is the request body for POST /v1/posts.
type CreatePostRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Content     string `json:"content" validate:"required"`
	DocumentURN string `json:"document_urn,omitempty"`
}

// UpdatePostRequest is the request body for PUT /v1/posts/{id}.
type UpdatePostRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Content     string `json:"content" validate:"required"`
	DocumentURN string `json:"document_urn,omitempty"`
}

// PostHandler manages post CRUD. Posts are always scoped by owner; the owner
// is carried in the request body on writes and in the user_id query parameter
// on reads and deletes.
type PostHandler struct {
	repo      PostRepo
	canceller ScheduleCanceller
	validator *core.Validator
	logger    *slog.Logger
}

// NewPostHandler creates a new PostHandler with the provided dependencies.
func NewPostHandler(repo PostRepo, canceller ScheduleCanceller, v *core.Validator, l *slog.Logger) *PostHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PostHandler{
		repo:      repo,
		canceller: canceller,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts post routes on the provided chi.Router.
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Route("/posts", func(r chi.Router) {
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/posts. New posts start in saved.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	post := &types.Post{
		ID:          "post_" + uuid.New().String(),
		OwnerID:     req.UserID,
		Status:      types.PostStatusSaved,
		Content:     req.Content,
		DocumentURN: req.DocumentURN,
	}
	if err := h.repo.Create(r.Context(), post); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "post created",
		"owner_id", post.OwnerID,
		"post_id", post.ID,
	)

	core.JSON(w, r, http.StatusCreated, post)
}

// Get handles GET /v1/posts/{id}.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, postID, err := postIdentity(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	post, err := h.repo.GetByIDAndOwner(r.Context(), ownerID, postID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, post)
}

// Update handles PUT /v1/posts/{id}. Only the stored content changes; a
// pending schedule, if any, keeps delivering the content captured when the
// job was queued.
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	if postID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"post ID is required",
			nil,
		))
		return
	}

	var req UpdatePostRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.repo.UpdateContent(r.Context(), req.UserID, postID, req.Content, req.DocumentURN); err != nil {
		core.Error(w, r, err)
		return
	}

	post, err := h.repo.GetByIDAndOwner(r.Context(), req.UserID, postID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, post)
}

// Delete handles DELETE /v1/posts/{id}. Any pending publication is withdrawn
// first so no queue job outlives its post; cancellation trouble is logged by
// the canceller and never blocks the delete.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, postID, err := postIdentity(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.canceller.CancelForDeletion(r.Context(), ownerID, postID)

	if err := h.repo.Delete(r.Context(), ownerID, postID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "post deleted",
		"owner_id", ownerID,
		"post_id", postID,
	)

	w.WriteHeader(http.StatusNoContent)
}

// postIdentity extracts the (owner, post) pair from the URL and query string.
func postIdentity(r *http.Request) (ownerID, postID string, err error) {
	postID = chi.URLParam(r, "id")
	if postID == "" {
		return "", "", types.NewAppError(
			types.ErrCodeValidationMissingField,
			"post ID is required",
			nil,
		)
	}
	ownerID = r.URL.Query().Get("user_id")
	if ownerID == "" {
		return "", "", types.NewAppError(
			types.ErrCodeValidationMissingField,
			"user_id query parameter is required",
			nil,
		)
	}
	return ownerID, postID, nil
}
