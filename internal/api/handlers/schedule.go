// Package handlers contains the HTTP handler implementations for the
// Postwire API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"postwire/internal/core"
	"postwire/internal/scheduler"
	"postwire/internal/types"
)

// ScheduleService is the scheduling contract the handler depends on. Mirrors
// the concrete scheduler.Service methods used here.
type ScheduleService interface {
	Schedule(ctx context.Context, in scheduler.ScheduleInput) (*scheduler.ScheduleReceipt, error)
	Reschedule(ctx context.Context, in scheduler.RescheduleInput) (*scheduler.ScheduleReceipt, error)
	Cancel(ctx context.Context, ownerID, postID string) error
}

// ScheduleRequest is the request body for POST /v1/schedule.
type ScheduleRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	PostID        string `json:"post_id" validate:"required"`
	Content       string `json:"content" validate:"required"`
	DocumentURN   string `json:"document_urn,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
}

// RescheduleRequest is the request body for PUT /v1/schedule. Omitted fields
// keep the values from the existing job.
type RescheduleRequest struct {
	UserID        string `json:"user_id" validate:"required"`
	PostID        string `json:"post_id" validate:"required"`
	Content       string `json:"content,omitempty"`
	DocumentURN   string `json:"document_urn,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
}

// CancelScheduleRequest is the request body for DELETE /v1/schedule.
type CancelScheduleRequest struct {
	UserID string `json:"user_id" validate:"required"`
	PostID string `json:"post_id" validate:"required"`
}

// ScheduleHandler manages the schedule lifecycle of a post.
type ScheduleHandler struct {
	svc       ScheduleService
	validator *core.Validator
	logger    *slog.Logger
}

// NewScheduleHandler creates a new ScheduleHandler with the provided dependencies.
func NewScheduleHandler(svc ScheduleService, v *core.Validator, l *slog.Logger) *ScheduleHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ScheduleHandler{
		svc:       svc,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts schedule routes on the provided chi.Router.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/schedule", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Put("/", h.Update)
		r.Delete("/", h.Cancel)
	})
}

// Create handles POST /v1/schedule. A missing scheduled_time means "publish
// as soon as possible".
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	scheduledFor, err := parseScheduledTime(req.ScheduledTime)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	receipt, err := h.svc.Schedule(r.Context(), scheduler.ScheduleInput{
		OwnerID:      req.UserID,
		PostID:       req.PostID,
		Content:      req.Content,
		DocumentURN:  req.DocumentURN,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, receipt)
}

// Update handles PUT /v1/schedule. Only the fields present in the body are
// changed; the rest carry over from the existing job.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	scheduledFor, err := parseScheduledTime(req.ScheduledTime)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	receipt, err := h.svc.Reschedule(r.Context(), scheduler.RescheduleInput{
		OwnerID:      req.UserID,
		PostID:       req.PostID,
		Content:      req.Content,
		DocumentURN:  req.DocumentURN,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, receipt)
}

// Cancel handles DELETE /v1/schedule. On success the post is back in saved
// and no queue job remains for it.
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.svc.Cancel(r.Context(), req.UserID, req.PostID); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseScheduledTime resolves an optional RFC 3339 timestamp to UTC. An empty
// string yields the zero time.
func parseScheduledTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationInvalidTime,
			"scheduled_time must be an RFC 3339 timestamp",
			err,
		)
	}
	return t.UTC(), nil
}
