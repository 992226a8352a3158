package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/nexlink/internal/logger"
)

// CORSConfig holds the configuration for CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to make cross-origin requests.
	// Empty or "*" allows every origin.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// MaxAge is the preflight cache lifetime in seconds. Default: 86400.
	MaxAge int
}

func (c *CORSConfig) isOriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// allowOriginValue returns the Access-Control-Allow-Origin value, or "" when
// origin is not allowed.
func (c *CORSConfig) allowOriginValue(origin string) string {
	if len(c.AllowedOrigins) == 0 {
		return "*"
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
	}
	if c.isOriginAllowed(origin) {
		return origin
	}
	return ""
}

func (c *CORSConfig) methods() string {
	if len(c.AllowedMethods) == 0 {
		return "GET, HEAD, PUT, PATCH, POST, DELETE"
	}
	return strings.Join(c.AllowedMethods, ", ")
}

func (c *CORSConfig) headers(requested string) string {
	if len(c.AllowedHeaders) == 0 {
		if requested != "" {
			return requested
		}
		return "Content-Type, Authorization"
	}
	return strings.Join(c.AllowedHeaders, ", ")
}

func (c *CORSConfig) maxAge() string {
	if c.MaxAge <= 0 {
		return "86400"
	}
	return strconv.Itoa(c.MaxAge)
}

// corsMiddleware adds CORS headers to responses and answers preflight requests.
type corsMiddleware struct {
	handler http.Handler
	config  CORSConfig
}

func newCORSMiddleware(handler http.Handler, config CORSConfig) *corsMiddleware {
	return &corsMiddleware{handler: handler, config: config}
}

func (m *corsMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Vary", "Origin")

	allowOrigin := m.config.allowOriginValue(r.Header.Get("Origin"))
	if allowOrigin == "" {
		// the browser blocks the response
		m.handler.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowOrigin)

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.Header().Set("Access-Control-Allow-Methods", m.config.methods())
		w.Header().Set("Access-Control-Allow-Headers", m.config.headers(r.Header.Get("Access-Control-Request-Headers")))
		w.Header().Set("Access-Control-Max-Age", m.config.maxAge())
		w.WriteHeader(http.StatusNoContent)
		return
	}

	m.handler.ServeHTTP(w, r)
}

// accessLog logs one line per handled request.
type accessLog struct {
	handler http.Handler
	log     logger.Logger
}

func newAccessLog(handler http.Handler, log logger.Logger) *accessLog {
	return &accessLog{handler: handler, log: logger.Ensure(log)}
}

func (m *accessLog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	m.handler.ServeHTTP(lrw, r)

	m.log.InfoObj("http request", "http_access", map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      lrw.statusCode,
		"duration_ms": time.Since(start).Milliseconds(),
		"remote_addr": r.RemoteAddr,
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
