package gateway

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/axiscore/axiscore/internal/axerr"
	"github.com/axiscore/axiscore/internal/jobqueue"
)

// sessionHeader carries the caller's session identity, set by whatever
// reverse proxy terminates auth in front of this service (the teacher's own
// deployment defers to an oauth2-proxy sidecar ahead of its API routes —
// see pkg/api/server.go's comment on the /ws route). This gateway trusts
// the header the same way, rather than re-implementing session auth.
const sessionHeader = "X-Session-Id"

func sessionID(c *echo.Context) string {
	if id := c.Request().Header.Get(sessionHeader); id != "" {
		return id
	}
	return "default"
}

type postMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type postMessageResponse struct {
	JobID          string `json:"jobId"`
	ConversationID string `json:"conversationId"`
}

// postMessagesHandler handles POST /messages.
func (s *Server) postMessagesHandler(c *echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: axerr.CodeValidation})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "content is required", Code: axerr.CodeValidation})
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = sessionID(c)
	}

	job, err := s.jobs.Enqueue(c.Request().Context(), conversationID, req.Content)
	if err != nil {
		status, body := writeErrorBody(err)
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusAccepted, postMessageResponse{JobID: job.ID, ConversationID: conversationID})
}

type approveRequest struct {
	Nonce string `json:"nonce"`
}

// approveJobHandler handles POST /jobs/:id/approve.
func (s *Server) approveJobHandler(c *echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil || req.Nonce == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "nonce is required", Code: axerr.CodeValidation})
	}
	if err := s.jobs.Approve(c.Request().Context(), c.Param("id"), req.Nonce); err != nil {
		status, body := writeErrorBody(err)
		return c.JSON(status, body)
	}
	return c.NoContent(http.StatusNoContent)
}

// cancelJobHandler handles POST /jobs/:id/cancel.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	if err := s.jobs.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		status, body := writeErrorBody(err)
		return c.JSON(status, body)
	}
	return c.NoContent(http.StatusNoContent)
}

type jobResponse struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversationId"`
	Status         jobqueue.Status    `json:"status"`
	Plan           *jobResponsePlan   `json:"plan,omitempty"`
	Result         map[string]any     `json:"result,omitempty"`
	Error          *jobqueue.JobError `json:"error,omitempty"`
	Retries        int                `json:"retries"`
}

type jobResponsePlan struct {
	ID    string `json:"id"`
	Steps int    `json:"stepCount"`
}

func toJobResponse(job *jobqueue.Job) jobResponse {
	resp := jobResponse{
		ID:             job.ID,
		ConversationID: job.ConversationID,
		Status:         job.Status,
		Result:         job.Result,
		Error:          job.Error,
		Retries:        job.Retries,
	}
	if job.Plan != nil {
		resp.Plan = &jobResponsePlan{ID: job.Plan.ID, Steps: len(job.Plan.Steps)}
	}
	return resp
}

// getJobHandler handles GET /jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		status, body := writeErrorBody(err)
		return c.JSON(status, body)
	}

	if job.Result != nil {
		job.Result = scrubResultFields(job.Result, job.ID)
	}
	return c.JSON(http.StatusOK, toJobResponse(job))
}

// scrubResultFields applies response-body scrubbing (spec §4.8) to every
// string-valued field of a job result before it reaches an HTTP client.
func scrubResultFields(result map[string]any, jobID string) map[string]any {
	scrubbed := make(map[string]any, len(result))
	for k, v := range result {
		if s, ok := v.(string); ok {
			scrubbed[k] = scrub(s, jobID)
			continue
		}
		scrubbed[k] = v
	}
	return scrubbed
}

// listConversationMessagesHandler handles GET /conversations/:id/messages.
func (s *Server) listConversationMessagesHandler(c *echo.Context) error {
	limit := 100
	messages, err := s.messages.List(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		status, body := writeErrorBody(err)
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusOK, messages)
}

// healthHandler handles GET /health — liveness: the process is up and
// serving, regardless of downstream dependency health.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":            "ok",
		"activeConnections": s.connManager.ActiveConnections(),
	})
}

// readyHandler handles GET /ready — readiness: the process has a working
// store connection and can actually process a job.
func (s *Server) readyHandler(c *echo.Context) error {
	if s.ready == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	if err := s.ready.Ready(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// wsTokenHandler handles POST /ws/token — mints a one-time token the
// client must present as the first WebSocket frame.
func (s *Server) wsTokenHandler(c *echo.Context) error {
	token, err := s.tokens.Issue(c.Request().Context(), sessionID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to issue token"})
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}
