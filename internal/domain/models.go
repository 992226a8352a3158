// Package domain contains core models shared by the stores, the executor and the API.
package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/samvad-hq/nexlink/internal/value"
)

// HistoryLimit caps the number of entries returned by a history listing.
const HistoryLimit = 100

// VariableSource records how a variable was produced.
type VariableSource string

const (
	SourceManual   VariableSource = "manual"
	SourceResponse VariableSource = "response"
)

// NormalizeSource maps an empty or unknown source to manual.
func NormalizeSource(s VariableSource) VariableSource {
	switch VariableSource(strings.TrimSpace(string(s))) {
	case SourceResponse:
		return SourceResponse
	default:
		return SourceManual
	}
}

// Variable is a user-owned key/value pair available for placeholder substitution.
type Variable struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"userId"`
	Key       string         `json:"key"`
	Value     value.Value    `json:"value"`
	Source    VariableSource `json:"source"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// VariableMap flattens variables into a key→value lookup.
func VariableMap(vars []Variable) map[string]value.Value {
	out := make(map[string]value.Value, len(vars))
	for _, v := range vars {
		out[v.Key] = v.Value
	}
	return out
}

// StringMap is a header or query mapping. Scalar JSON values are accepted and
// kept in their text form so clients may send {"X-Retry": 3}.
type StringMap map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (m *StringMap) UnmarshalJSON(data []byte) error {
	v, err := value.Parse(data)
	if err != nil {
		return err
	}
	switch v.Kind() {
	case value.Null:
		*m = nil
		return nil
	case value.Object:
	default:
		return &ValidationError{Msg: fmt.Sprintf("expected an object, got %s", v.Kind())}
	}
	out := make(StringMap, v.Len())
	for k, f := range v.Fields() {
		if f.IsNull() {
			continue
		}
		out[k] = f.Text()
	}
	*m = out
	return nil
}

// Clone returns an independent copy, never nil.
func (m StringMap) Clone() StringMap {
	out := make(StringMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RequestSpec is the raw request submitted by a client before resolution.
type RequestSpec struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers StringMap   `json:"headers"`
	Params  StringMap   `json:"params"`
	Body    value.Value `json:"body"`
	Auth    Auth        `json:"-"`
}

type requestSpecJSON struct {
	Method  string          `json:"method"`
	URL     string          `json:"url"`
	Headers StringMap       `json:"headers"`
	Params  StringMap       `json:"params"`
	Body    value.Value     `json:"body"`
	Auth    json.RawMessage `json:"auth"`
}

// UnmarshalJSON decodes the spec and its tagged auth variant.
func (r *RequestSpec) UnmarshalJSON(data []byte) error {
	var raw requestSpecJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	auth, err := DecodeAuth(raw.Auth)
	if err != nil {
		return err
	}
	*r = RequestSpec{
		Method:  raw.Method,
		URL:     raw.URL,
		Headers: raw.Headers,
		Params:  raw.Params,
		Body:    raw.Body,
		Auth:    auth,
	}
	return nil
}

// MarshalJSON encodes the spec including its auth variant.
func (r RequestSpec) MarshalJSON() ([]byte, error) {
	authRaw, err := EncodeAuth(r.Auth)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestSpecJSON{
		Method:  r.Method,
		URL:     r.URL,
		Headers: r.Headers,
		Params:  r.Params,
		Body:    r.Body,
		Auth:    authRaw,
	})
}

// RecordedRequest is the resolved request embedded in a history entry.
type RecordedRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	BaseURL string            `json:"baseUrl"`
	Headers map[string]string `json:"headers"`
	Params  map[string]string `json:"params"`
	Body    value.Value       `json:"body"`
	Auth    Auth              `json:"-"`
}

type recordedRequestJSON struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	BaseURL string            `json:"baseUrl"`
	Headers map[string]string `json:"headers"`
	Params  map[string]string `json:"params"`
	Body    value.Value       `json:"body"`
	Auth    json.RawMessage   `json:"auth,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r RecordedRequest) MarshalJSON() ([]byte, error) {
	authRaw, err := EncodeAuth(r.Auth)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordedRequestJSON{
		Method:  r.Method,
		URL:     r.URL,
		BaseURL: r.BaseURL,
		Headers: r.Headers,
		Params:  r.Params,
		Body:    r.Body,
		Auth:    authRaw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RecordedRequest) UnmarshalJSON(data []byte) error {
	var raw recordedRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	auth, err := DecodeAuth(raw.Auth)
	if err != nil {
		return err
	}
	*r = RecordedRequest{
		Method:  raw.Method,
		URL:     raw.URL,
		BaseURL: raw.BaseURL,
		Headers: raw.Headers,
		Params:  raw.Params,
		Body:    raw.Body,
		Auth:    auth,
	}
	return nil
}

// PageMeta carries metadata scraped from HTML responses.
type PageMeta struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// RecordedResponse is the captured outcome of a dispatched request.
type RecordedResponse struct {
	Status       int               `json:"status"`
	StatusText   string            `json:"statusText"`
	Headers      map[string]string `json:"headers"`
	Data         value.Value       `json:"data"`
	ResponseTime int64             `json:"responseTime"`
	Size         int               `json:"size"`
	Meta         *PageMeta         `json:"meta,omitempty"`
}

// HistoryEntry is one executed request/response pair. It is never updated.
type HistoryEntry struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"userId"`
	Request   RecordedRequest  `json:"request"`
	Response  RecordedResponse `json:"response"`
	Timestamp time.Time        `json:"timestamp"`
}

// Clone returns a copy that shares no maps or pointers with e.
func (e HistoryEntry) Clone() HistoryEntry {
	e.Request.Headers = maps.Clone(e.Request.Headers)
	e.Request.Params = maps.Clone(e.Request.Params)
	e.Response.Headers = maps.Clone(e.Response.Headers)
	if e.Response.Meta != nil {
		meta := *e.Response.Meta
		e.Response.Meta = &meta
	}
	return e
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Search  string
	BaseURL string
}

// Matches applies the filter to one entry: exact origin match and a
// case-insensitive substring match against method or url.
func (f HistoryFilter) Matches(e HistoryEntry) bool {
	if f.BaseURL != "" && e.Request.BaseURL != f.BaseURL {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(e.Request.URL), needle) ||
		strings.Contains(strings.ToLower(e.Request.Method), needle)
}

// ExecutionResult is returned to the caller after a successful dispatch.
type ExecutionResult struct {
	HistoryID    string            `json:"historyId"`
	Status       int               `json:"status"`
	StatusText   string            `json:"statusText"`
	Headers      map[string]string `json:"headers"`
	Data         value.Value       `json:"data"`
	ResponseTime int64             `json:"responseTime"`
	Size         int               `json:"size"`
	Meta         *PageMeta         `json:"meta,omitempty"`
}

// BaseOrigin derives scheme://host[:port] from a URL, omitting the scheme's
// default port. Unparseable input yields "".
func BaseOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if port := u.Port(); (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return scheme + "://" + host
}
