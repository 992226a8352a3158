package api

import (
	"errors"
	"net/http"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/pkg/httputil"
)

// executionFailure is the body returned when an outbound request cannot complete.
type executionFailure struct {
	Message      string `json:"message"`
	Error        string `json:"error"`
	ResponseTime int64  `json:"responseTime"`
}

// writeError maps a domain error onto a status and {"message"} body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var execErr *domain.ExecutionError
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, domain.ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
		return
	case errors.As(err, &execErr):
		httputil.WriteJSON(w, http.StatusInternalServerError, executionFailure{
			Message:      "Failed to execute request",
			Error:        execErr.Message,
			ResponseTime: execErr.ElapsedMs,
		})
		return
	}

	s.log.ErrorObj("request failed", "handler_error", map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"error":  err.Error(),
	})
	httputil.WriteInternalError(w, err.Error())
}
