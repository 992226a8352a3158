package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samvad-hq/nexlink/internal/capture"
	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/identity"
	"github.com/samvad-hq/nexlink/internal/value"
	"github.com/samvad-hq/nexlink/pkg/httputil"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type upsertVariableRequest struct {
	Key    string                `json:"key"`
	Value  value.Value           `json:"value"`
	Source domain.VariableSource `json:"source"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, healthResponse{Status: "OK", Timestamp: s.now().UTC()})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var spec domain.RequestSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.exec.Execute(r.Context(), owner(r), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, res)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.history.ListHistory(r.Context(), owner(r), domain.HistoryFilter{
		Search:  strings.TrimSpace(q.Get("search")),
		BaseURL: strings.TrimSpace(q.Get("baseUrl")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, entries)
}

func (s *Server) handleHistoryURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := s.history.DistinctBaseURLs(r.Context(), owner(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, urls)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.DeleteHistory(r.Context(), owner(r), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, httputil.MessageBody{Message: "History item deleted"})
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	vars, err := s.vars.ListVariables(r.Context(), owner(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, vars)
}

func (s *Server) handleUpsertVariable(w http.ResponseWriter, r *http.Request) {
	var req upsertVariableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.vars.UpsertVariable(r.Context(), owner(r), req.Key, req.Value, req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, v)
}

func (s *Server) handleCaptureVariable(w http.ResponseWriter, r *http.Request) {
	var req capture.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.capture.Capture(r.Context(), owner(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, v)
}

func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	if err := s.vars.DeleteVariable(r.Context(), owner(r), r.PathValue("idOrKey")); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteOK(w, httputil.MessageBody{Message: "Variable deleted"})
}

// owner is the verified caller; routes are only reachable through identity.Middleware.
func owner(r *http.Request) string {
	id, _ := identity.UserID(r.Context())
	return id
}

// decodeJSON reads a JSON body into dst. Malformed input and auth or body
// shape problems surface as validation errors; an empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return &domain.ValidationError{Msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}
