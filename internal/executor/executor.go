// Package executor resolves, authenticates, dispatches and records one
// outbound request on behalf of a user.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/injector"
	"github.com/samvad-hq/nexlink/internal/logger"
	"github.com/samvad-hq/nexlink/internal/resolver"
	"github.com/samvad-hq/nexlink/internal/storage"
	"github.com/samvad-hq/nexlink/internal/value"
	"github.com/samvad-hq/nexlink/pkg/httpclient"
	"github.com/samvad-hq/nexlink/pkg/publishers"
)

// EventPublisher receives an event per recorded execution.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Executor runs requests against upstream services.
type Executor struct {
	vars    storage.VariableStore
	history storage.HistoryStore
	client  httpclient.Client
	events  EventPublisher
	log     logger.Logger
	timeout time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClient replaces the outbound HTTP client.
func WithClient(c httpclient.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithEvents publishes a request.executed event after each recorded execution.
func WithEvents(p EventPublisher) Option {
	return func(e *Executor) { e.events = p }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Executor) { e.log = logger.Ensure(log) }
}

// WithTimeout overrides the dispatch timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New builds an Executor over the given stores.
func New(vars storage.VariableStore, history storage.HistoryStore, opts ...Option) *Executor {
	e := &Executor{
		vars:    vars,
		history: history,
		log:     logger.NopLogger{},
		timeout: httpclient.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = httpclient.NewRestyClient(e.timeout)
	}
	return e
}

// Execute resolves spec against the owner's variables, applies auth,
// dispatches it and records the exchange. Any HTTP status is a result; only
// transport failures return an *domain.ExecutionError, and those are not recorded.
func (e *Executor) Execute(ctx context.Context, ownerID string, spec domain.RequestSpec) (domain.ExecutionResult, error) {
	stored, err := e.vars.ListVariables(ctx, ownerID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	vars := domain.VariableMap(stored)

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	url := resolver.ResolveString(spec.URL, vars)
	headers := resolver.ResolveMap(spec.Headers, vars)
	params := resolver.ResolveMap(spec.Params, vars)
	body := resolver.Resolve(spec.Body, vars)

	if missing := resolver.Unresolved(url, vars); len(missing) > 0 {
		e.log.DebugObj("unresolved placeholders left in url", "unresolved_placeholders", map[string]any{
			"owner_id": ownerID,
			"names":    missing,
		})
	}

	// Auth lands on copies so history keeps the pre-auth maps.
	outHeaders := copyMap(headers)
	outParams := copyMap(params)
	if spec.Auth != nil {
		injector.Apply(spec.Auth.Map(resolver.Func(vars)), outHeaders, outParams)
	}

	payload, err := encodeBody(body, outHeaders)
	if err != nil {
		return domain.ExecutionResult{}, &domain.ValidationError{Msg: fmt.Sprintf("invalid body: %v", err)}
	}

	// The caller going away does not abort the dispatch; the timeout does.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Do(dctx, httpclient.Request{
		Method:  method,
		URL:     url,
		Headers: outHeaders,
		Query:   outParams,
		Body:    payload,
	})
	elapsed := elapsedMillis(time.Since(start))
	if err != nil {
		e.log.WarnObj("request dispatch failed", "request_failure", map[string]any{
			"owner_id":         ownerID,
			"method":           method,
			"url":              url,
			"response_time_ms": elapsed,
			"error":            err.Error(),
		})
		return domain.ExecutionResult{}, &domain.ExecutionError{Message: err.Error(), ElapsedMs: elapsed, Err: err}
	}

	recorded := e.buildResponse(resp, elapsed)

	entry, err := e.history.RecordHistory(context.WithoutCancel(ctx), domain.HistoryEntry{
		OwnerID: ownerID,
		Request: domain.RecordedRequest{
			Method:  method,
			URL:     url,
			BaseURL: domain.BaseOrigin(url),
			Headers: headers,
			Params:  params,
			Body:    body,
			Auth:    spec.Auth,
		},
		Response: recorded,
	})
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	e.log.InfoObj("request executed", "request_execution", map[string]any{
		"owner_id":         ownerID,
		"history_id":       entry.ID,
		"method":           method,
		"url":              url,
		"status":           recorded.Status,
		"response_time_ms": recorded.ResponseTime,
		"size":             humanize.Bytes(uint64(recorded.Size)),
	})

	e.publish(ctx, entry)

	return domain.ExecutionResult{
		HistoryID:    entry.ID,
		Status:       recorded.Status,
		StatusText:   recorded.StatusText,
		Headers:      recorded.Headers,
		Data:         recorded.Data,
		ResponseTime: recorded.ResponseTime,
		Size:         recorded.Size,
		Meta:         recorded.Meta,
	}, nil
}

// elapsedMillis rounds d up to whole milliseconds. A dispatch always reports at least 1.
func elapsedMillis(d time.Duration) int64 {
	ms := int64((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}

func (e *Executor) buildResponse(resp httpclient.Response, elapsed int64) domain.RecordedResponse {
	raw := resp.Body()
	data := decodeData(raw)

	size := 0
	if encoded, err := json.Marshal(data); err == nil {
		size = len(encoded)
	}

	out := domain.RecordedResponse{
		Status:       resp.StatusCode(),
		StatusText:   resp.StatusText(),
		Headers:      flattenHeaders(resp.Header()),
		Data:         data,
		ResponseTime: elapsed,
		Size:         size,
	}

	if isHTML(resp.Header().Get("Content-Type")) {
		meta, err := parseMeta(raw)
		if err != nil {
			e.log.DebugObj("html metadata parse failed", "metadata_error", map[string]any{
				"error": err.Error(),
			})
		}
		out.Meta = meta
	}
	return out
}

func (e *Executor) publish(ctx context.Context, entry domain.HistoryEntry) {
	if e.events == nil {
		return
	}
	n, err := e.events.Publish(context.WithoutCancel(ctx), publishers.NewEvent(entry))
	if err != nil {
		e.log.WarnObj("execution event publish failed", "publish_error", map[string]any{
			"history_id": entry.ID,
			"delivered":  n,
			"error":      err.Error(),
		})
	}
}

// encodeBody renders the resolved body: null sends nothing, strings go out
// verbatim, anything else as JSON with a default content type.
func encodeBody(body value.Value, headers map[string]string) ([]byte, error) {
	switch body.Kind() {
	case value.Null:
		return nil, nil
	case value.String:
		return []byte(body.Str()), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if !hasHeader(headers, "Content-Type") {
		headers["Content-Type"] = "application/json"
	}
	return raw, nil
}

// decodeData parses a JSON body, falling back to its text.
func decodeData(raw []byte) value.Value {
	if v, err := value.Parse(raw); err == nil {
		return v
	}
	return value.FromString(string(raw))
}

// flattenHeaders lowercases names and joins repeated values with ", ".
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := strings.ToLower(name)
		joined := strings.Join(h[name], ", ")
		if prev, ok := out[key]; ok {
			joined = prev + ", " + joined
		}
		out[key] = joined
	}
	return out
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
