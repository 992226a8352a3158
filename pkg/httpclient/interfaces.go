package httpclient

import (
	"context"
	"net/http"
)

// Request describes one outbound call. Query entries are appended to any
// query string already present in URL.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
	// StatusText is the reason phrase sent by the server, or the standard one.
	StatusText() string
	Header() http.Header
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
// Non-2xx statuses are returned as responses, not errors.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}
