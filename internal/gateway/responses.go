package gateway

import (
	"errors"
	"net/http"

	"github.com/axiscore/axiscore/internal/axerr"
)

// errorResponse is the fixed {error, code?} shape spec §7 mandates: internal
// detail never reaches the client, only a stable code and a message safe to
// display.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusForCode maps a structured error code to its HTTP status, per the
// table in spec §7. Domain codes without an explicit HTTP mapping fall back
// to 500 — they surface through WebSocket job state, not the HTTP layer.
func statusForCode(code string) int {
	switch code {
	case axerr.CodeValidation:
		return http.StatusBadRequest
	case axerr.CodeAuth:
		return http.StatusUnauthorized
	case axerr.CodeAuthz:
		return http.StatusForbidden
	case axerr.CodeNotFound:
		return http.StatusNotFound
	case axerr.CodeConflict:
		return http.StatusConflict
	case axerr.CodeRateLimit:
		return http.StatusTooManyRequests
	case axerr.CodeTimeout:
		return http.StatusGatewayTimeout
	case axerr.CodeDispatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into the fixed {error, code?} body. A bare
// *axerr.Error carries its own code and message; anything else is an
// internal bug and must not leak its string to the client.
func writeErrorBody(err error) (int, errorResponse) {
	var axErr *axerr.Error
	if errors.As(err, &axErr) {
		status := axErr.HTTPStatus
		if status == 0 {
			status = statusForCode(axErr.Code)
		}
		return status, errorResponse{Error: axErr.Message, Code: axErr.Code}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}
