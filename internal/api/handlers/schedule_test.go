package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwire/internal/core"
	"postwire/internal/scheduler"
	"postwire/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockScheduleService struct {
	scheduleFn   func(ctx context.Context, in scheduler.ScheduleInput) (*scheduler.ScheduleReceipt, error)
	rescheduleFn func(ctx context.Context, in scheduler.RescheduleInput) (*scheduler.ScheduleReceipt, error)
	cancelFn     func(ctx context.Context, ownerID, postID string) error

	lastSchedule   *scheduler.ScheduleInput
	lastReschedule *scheduler.RescheduleInput
	cancelCalls    [][2]string
}

func (m *mockScheduleService) Schedule(ctx context.Context, in scheduler.ScheduleInput) (*scheduler.ScheduleReceipt, error) {
	m.lastSchedule = &in
	if m.scheduleFn != nil {
		return m.scheduleFn(ctx, in)
	}
	return &scheduler.ScheduleReceipt{
		JobID:        "job_1",
		OwnerID:      in.OwnerID,
		PostID:       in.PostID,
		ScheduledFor: in.ScheduledFor,
	}, nil
}

func (m *mockScheduleService) Reschedule(ctx context.Context, in scheduler.RescheduleInput) (*scheduler.ScheduleReceipt, error) {
	m.lastReschedule = &in
	if m.rescheduleFn != nil {
		return m.rescheduleFn(ctx, in)
	}
	return &scheduler.ScheduleReceipt{
		JobID:        "job_2",
		OwnerID:      in.OwnerID,
		PostID:       in.PostID,
		ScheduledFor: in.ScheduledFor,
	}, nil
}

func (m *mockScheduleService) Cancel(ctx context.Context, ownerID, postID string) error {
	m.cancelCalls = append(m.cancelCalls, [2]string{ownerID, postID})
	if m.cancelFn != nil {
		return m.cancelFn(ctx, ownerID, postID)
	}
	return nil
}

func newTestScheduleHandler() (*ScheduleHandler, *mockScheduleService) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := &mockScheduleService{}
	return NewScheduleHandler(svc, core.NewValidator(logger), logger), svc
}

func decodeErrorCode(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp.Error.Code
}

// =============================================================================
// Create Tests
// =============================================================================

func TestScheduleHandler_Create_Success(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	when := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	body, err := json.Marshal(ScheduleRequest{
		UserID:        "usr_1",
		PostID:        "post_1",
		Content:       "hello world",
		ScheduledTime: when.Format(time.RFC3339),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	require.NotNil(t, svc.lastSchedule)
	assert.Equal(t, "usr_1", svc.lastSchedule.OwnerID)
	assert.Equal(t, "post_1", svc.lastSchedule.PostID)
	assert.Equal(t, "hello world", svc.lastSchedule.Content)
	assert.True(t, svc.lastSchedule.ScheduledFor.Equal(when))
	assert.Equal(t, time.UTC, svc.lastSchedule.ScheduledFor.Location())

	var resp struct {
		Data scheduler.ScheduleReceipt `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "job_1", resp.Data.JobID)
}

func TestScheduleHandler_Create_NoTimeMeansImmediate(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1","post_id":"post_1","content":"now"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, svc.lastSchedule)
	assert.True(t, svc.lastSchedule.ScheduledFor.IsZero())
}

func TestScheduleHandler_Create_MissingFields(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr.Body))
	assert.Nil(t, svc.lastSchedule)
}

func TestScheduleHandler_Create_MalformedTime(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1","post_id":"post_1","content":"x","scheduled_time":"tomorrow at noon"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidTime), decodeErrorCode(t, rr.Body))
	assert.Nil(t, svc.lastSchedule)
}

func TestScheduleHandler_Create_OffsetTimeResolvedToUTC(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1","post_id":"post_1","content":"x","scheduled_time":"2030-06-01T12:00:00+05:00"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, svc.lastSchedule)
	want := time.Date(2030, 6, 1, 7, 0, 0, 0, time.UTC)
	assert.True(t, svc.lastSchedule.ScheduledFor.Equal(want))
	assert.Equal(t, time.UTC, svc.lastSchedule.ScheduledFor.Location())
}

func TestScheduleHandler_Create_ServiceErrorMapped(t *testing.T) {
	handler, svc := newTestScheduleHandler()
	svc.scheduleFn = func(ctx context.Context, in scheduler.ScheduleInput) (*scheduler.ScheduleReceipt, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPost, "post not found", nil)
	}

	body := []byte(`{"user_id":"usr_1","post_id":"post_missing","content":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundPost), decodeErrorCode(t, rr.Body))
}

func TestScheduleHandler_Create_InvalidJSON(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader([]byte(`{not json`)))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, svc.lastSchedule)
}

// =============================================================================
// Update Tests
// =============================================================================

func TestScheduleHandler_Update_Success(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1","post_id":"post_1","scheduled_time":"2030-01-02T15:04:05Z"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Update(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.lastReschedule)
	assert.Equal(t, "usr_1", svc.lastReschedule.OwnerID)
	assert.Empty(t, svc.lastReschedule.Content)
	want := time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.True(t, svc.lastReschedule.ScheduledFor.Equal(want))
}

func TestScheduleHandler_Update_ContentOnly(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1","post_id":"post_1","content":"revised"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Update(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.lastReschedule)
	assert.Equal(t, "revised", svc.lastReschedule.Content)
	assert.True(t, svc.lastReschedule.ScheduledFor.IsZero())
}

func TestScheduleHandler_Update_NoJobMapped(t *testing.T) {
	handler, svc := newTestScheduleHandler()
	svc.rescheduleFn = func(ctx context.Context, in scheduler.RescheduleInput) (*scheduler.ScheduleReceipt, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundJobIndex, "no scheduled job for post", nil)
	}

	body := []byte(`{"user_id":"usr_1","post_id":"post_1","content":"x"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Update(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundJobIndex), decodeErrorCode(t, rr.Body))
}

// =============================================================================
// Cancel Tests
// =============================================================================

func TestScheduleHandler_Cancel_Success(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1","post_id":"post_1"}`)
	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Cancel(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.Bytes())
	require.Len(t, svc.cancelCalls, 1)
	assert.Equal(t, [2]string{"usr_1", "post_1"}, svc.cancelCalls[0])
}

func TestScheduleHandler_Cancel_MissingPostID(t *testing.T) {
	handler, svc := newTestScheduleHandler()

	body := []byte(`{"user_id":"usr_1"}`)
	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Cancel(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, svc.cancelCalls)
}

func TestScheduleHandler_Cancel_ServiceErrorMapped(t *testing.T) {
	handler, svc := newTestScheduleHandler()
	svc.cancelFn = func(ctx context.Context, ownerID, postID string) error {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
	}

	body := []byte(`{"user_id":"usr_1","post_id":"post_1"}`)
	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Cancel(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
