package publishers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/nexlink/pkg/httpclient"
)

const (
	headerEvent     = "X-Nexlink-Event"
	headerSignature = "X-Nexlink-Signature"
)

// httpPublisher posts events as JSON to a webhook endpoint.
type httpPublisher struct {
	id      string
	method  string
	url     string
	headers map[string]string
	secret  []byte
	client  httpclient.Client
	log     Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}
	timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
	return &httpPublisher{
		id:      cfg.ID,
		method:  cfg.HTTP.Method,
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		secret:  []byte(cfg.HTTP.Secret),
		client:  httpclient.NewRestyClient(timeout),
		log:     ensureLogger(log),
	}, nil
}

func (h *httpPublisher) ID() string   { return h.id }
func (h *httpPublisher) Type() string { return TypeHTTP }

func (h *httpPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := make(map[string]string, len(h.headers)+3)
	for k, v := range h.headers {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers[headerEvent] = evt.Type
	if len(h.secret) > 0 {
		headers[headerSignature] = sign(h.secret, body)
	}

	resp, err := h.client.Do(ctx, httpclient.Request{
		Method:  h.method,
		URL:     h.url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return fmt.Errorf("http response status %d: %s", code, readBodySnippet(resp.Body()))
	}
	h.log.DebugObj("http publisher delivered event", "publisher_http_delivery", map[string]any{
		"publisher_id": h.id,
		"history_id":   evt.HistoryID,
		"status":       resp.StatusCode(),
	})
	return nil
}

// sign returns the hex HMAC-SHA256 of body prefixed with the algorithm.
func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func readBodySnippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
