package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/internal/axerr"
	"github.com/axiscore/axiscore/internal/jobqueue"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

type fakeJobService struct {
	enqueued      *jobqueue.Job
	getJob        *jobqueue.Job
	getErr        error
	approveErr    error
	cancelErr     error
	approvedNonce string
}

func (f *fakeJobService) Enqueue(_ context.Context, conversationID, content string) (*jobqueue.Job, error) {
	f.enqueued = &jobqueue.Job{ID: "job-1", ConversationID: conversationID, Status: jobqueue.StatusQueued}
	return f.enqueued, nil
}

func (f *fakeJobService) Get(_ context.Context, _ string) (*jobqueue.Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getJob, nil
}

func (f *fakeJobService) Approve(_ context.Context, _ string, nonce string) error {
	f.approvedNonce = nonce
	return f.approveErr
}

func (f *fakeJobService) Cancel(_ context.Context, _ string) error {
	return f.cancelErr
}

type fakeMessageStore struct {
	messages []axismsg.ConversationMessage
}

func (f *fakeMessageStore) List(_ context.Context, _ string, _ int) ([]axismsg.ConversationMessage, error) {
	return f.messages, nil
}

func testServer(jobs JobService, messages MessageStore) *Server {
	return NewServer(DefaultConfig(), jobs, messages, NewMemTokenStore(), nil)
}

func TestPostMessagesHandlerEnqueuesJob(t *testing.T) {
	jobs := &fakeJobService{}
	s := testServer(jobs, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"content":"what is 2+2?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body postMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-1", body.JobID)
	require.NotNil(t, jobs.enqueued)
	assert.Equal(t, "job-1", jobs.enqueued.ID)
}

func TestPostMessagesHandlerRejectsEmptyContent(t *testing.T) {
	s := testServer(&fakeJobService{}, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"content":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveJobHandlerRequiresNonce(t *testing.T) {
	s := testServer(&fakeJobService{}, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/approve", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveJobHandlerConflictOnReplayedNonce(t *testing.T) {
	jobs := &fakeJobService{approveErr: axerr.New(axerr.CodeConflict, "nonce already consumed", false, 0, nil)}
	s := testServer(jobs, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/approve", strings.NewReader(`{"nonce":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, axerr.CodeConflict, body.Code)
	assert.Equal(t, "abc", jobs.approvedNonce)
}

func TestGetJobHandlerScrubsResultSecrets(t *testing.T) {
	jobs := &fakeJobService{getJob: &jobqueue.Job{
		ID:     "job-1",
		Status: jobqueue.StatusCompleted,
		Result: map[string]any{"text": "here is your key sk-ant-REDACTED"},
	}}
	s := testServer(jobs, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "[REDACTED-API-KEY]")
	assert.NotContains(t, rec.Body.String(), "sk-ant-REDACTED")
}

func TestGetJobHandlerNotFound(t *testing.T) {
	jobs := &fakeJobService{getErr: axerr.New(axerr.CodeNotFound, "job not found", false, 0, nil)}
	s := testServer(jobs, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandlerReportsOK(t *testing.T) {
	s := testServer(&fakeJobService{}, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandlerWithoutCheckerDefaultsToReady(t *testing.T) {
	s := testServer(&fakeJobService{}, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersPresentOnEveryResponse(t *testing.T) {
	s := testServer(&fakeJobService{}, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	h := rec.Header()
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, h.Get("Content-Security-Policy"))
	assert.Empty(t, h.Get("Strict-Transport-Security"), "HSTS must not be set without TLS active")
}

func TestListConversationMessagesHandler(t *testing.T) {
	store := &fakeMessageStore{messages: []axismsg.ConversationMessage{{ID: "m1", Content: "hi"}}}
	s := testServer(&fakeJobService{}, store)

	req := httptest.NewRequest(http.MethodGet, "/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []axismsg.ConversationMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestWSTokenHandlerIssuesUsableToken(t *testing.T) {
	s := testServer(&fakeJobService{}, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodPost, "/ws/token", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["token"])
}
