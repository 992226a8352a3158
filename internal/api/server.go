// Package api exposes the HTTP surface under /api.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/samvad-hq/nexlink/internal/capture"
	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/identity"
	"github.com/samvad-hq/nexlink/internal/logger"
	"github.com/samvad-hq/nexlink/internal/storage"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 10 << 20

// RequestExecutor runs one request for a user.
type RequestExecutor interface {
	Execute(ctx context.Context, ownerID string, spec domain.RequestSpec) (domain.ExecutionResult, error)
}

// Capturer stores a value found in a recorded response as a variable.
type Capturer interface {
	Capture(ctx context.Context, ownerID string, req capture.Request) (domain.Variable, error)
}

// Deps are the collaborators of the API.
type Deps struct {
	Variables storage.VariableStore
	History   storage.HistoryStore
	Executor  RequestExecutor
	Capture   Capturer
	Verifier  identity.Verifier
	Log       logger.Logger
	CORS      CORSConfig
	Now       func() time.Time
}

// Server holds the handlers.
type Server struct {
	vars     storage.VariableStore
	history  storage.HistoryStore
	exec     RequestExecutor
	capture  Capturer
	verifier identity.Verifier
	log      logger.Logger
	cors     CORSConfig
	now      func() time.Time
}

// New builds a Server from deps.
func New(d Deps) *Server {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		vars:     d.Variables,
		history:  d.History,
		exec:     d.Executor,
		capture:  d.Capture,
		verifier: d.Verifier,
		log:      logger.Ensure(d.Log),
		cors:     d.CORS,
		now:      now,
	}
}

// Handler returns the routed handler wrapped in CORS and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	protect := identity.Middleware(s.verifier, s.log)
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}

	route("POST /api/request/send", s.handleSend)

	route("GET /api/history", s.handleListHistory)
	route("GET /api/history/urls", s.handleHistoryURLs)
	route("DELETE /api/history/{id}", s.handleDeleteHistory)

	route("GET /api/variables", s.handleListVariables)
	route("POST /api/variables", s.handleUpsertVariable)
	route("POST /api/variables/capture", s.handleCaptureVariable)
	route("DELETE /api/variables/{idOrKey}", s.handleDeleteVariable)

	return newCORSMiddleware(newAccessLog(mux, s.log), s.cors)
}
