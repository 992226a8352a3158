package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/storage"
	"github.com/samvad-hq/nexlink/internal/value"
	"github.com/samvad-hq/nexlink/pkg/publishers"
)

type captured struct {
	method string
	path   string
	query  http.Header
	header http.Header
	body   string
}

type upstream struct {
	*httptest.Server
	mu   sync.Mutex
	last captured
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.last = captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  http.Header(r.URL.Query()),
			header: r.Header.Clone(),
			body:   string(b),
		}
		u.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) request() captured {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

type recordingEvents struct {
	events []publishers.Event
	err    error
}

func (r *recordingEvents) Publish(_ context.Context, evt publishers.Event) (int, error) {
	r.events = append(r.events, evt)
	if r.err != nil {
		return 0, r.err
	}
	return 1, nil
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewStore(storage.TypeMemory, "", storage.Options{})
	require.NoError(t, err)
	return s
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestExecuteResolvesVariablesAndRecordsHistory(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusCreated, `{"id":7,"name":"ada"}`))
	store := newStore(t)
	ctx := context.Background()

	_, err := store.UpsertVariable(ctx, "u1", "base", value.FromString(up.URL), "")
	require.NoError(t, err)
	_, err = store.UpsertVariable(ctx, "u1", "team", value.FromInt(42), "")
	require.NoError(t, err)

	events := &recordingEvents{}
	exec := New(store, store, WithEvents(events))

	res, err := exec.Execute(ctx, "u1", domain.RequestSpec{
		Method:  "post",
		URL:     "{{base}}/users",
		Headers: domain.StringMap{"X-Team": "{{ team }}"},
		Params:  domain.StringMap{"q": "{{missing}}"},
		Body: value.FromObject(map[string]value.Value{
			"team": value.FromString("{{team}}"),
			"tags": value.FromArray([]value.Value{value.FromString("{{team}}-a")}),
		}),
	})
	require.NoError(t, err)

	got := up.request()
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/users", got.path)
	assert.Equal(t, "42", got.header.Get("X-Team"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "{{missing}}", got.query.Get("q"))
	assert.JSONEq(t, `{"team":"42","tags":["42-a"]}`, got.body)

	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, "Created", res.StatusText)
	assert.Equal(t, "application/json", res.Headers["content-type"])
	assert.Equal(t, "a, b", res.Headers["x-multi"])
	name, ok := res.Data.Field("name")
	require.True(t, ok)
	assert.Equal(t, "ada", name.Str())
	assert.Equal(t, len(`{"id":7,"name":"ada"}`), res.Size)
	assert.True(t, domain.IsID(res.HistoryID))

	entry, err := store.GetHistory(ctx, "u1", res.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, up.URL+"/users", entry.Request.URL)
	assert.Equal(t, domain.BaseOrigin(up.URL), entry.Request.BaseURL)
	assert.Equal(t, "POST", entry.Request.Method)
	assert.Equal(t, http.StatusCreated, entry.Response.Status)

	require.Len(t, events.events, 1)
	assert.Equal(t, res.HistoryID, events.events[0].HistoryID)
	assert.Equal(t, publishers.EventRequestExecuted, events.events[0].Type)
}

func TestExecuteNonSuccessStatusIsAResult(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusNotFound, `{"error":"missing"}`))
	store := newStore(t)

	res, err := New(store, store).Execute(context.Background(), "u1", domain.RequestSpec{
		Method: "GET",
		URL:    up.URL + "/nope",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "Not Found", res.StatusText)

	list, err := store.ListHistory(context.Background(), "u1", domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExecuteAuthPlacement(t *testing.T) {
	tests := []struct {
		name   string
		auth   domain.Auth
		header string
		want   string
		query  string
	}{
		{name: "bearer", auth: domain.BearerAuth{Token: "{{tok}}"}, header: "Authorization", want: "Bearer secret"},
		{
			name:   "basic",
			auth:   domain.BasicAuth{Username: "ada", Password: "{{tok}}"},
			header: "Authorization",
			want:   "Basic " + base64.StdEncoding.EncodeToString([]byte("ada:secret")),
		},
		{name: "apiKey header", auth: domain.APIKeyAuth{Key: "X-Key", Value: "{{tok}}", AddTo: domain.APIKeyInHeader}, header: "X-Key", want: "secret"},
		{name: "apiKey query", auth: domain.APIKeyAuth{Key: "api_key", Value: "{{tok}}", AddTo: domain.APIKeyInQuery}, query: "api_key", want: "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, jsonHandler(http.StatusOK, `{}`))
			store := newStore(t)
			ctx := context.Background()
			_, err := store.UpsertVariable(ctx, "u1", "tok", value.FromString("secret"), "")
			require.NoError(t, err)

			res, err := New(store, store).Execute(ctx, "u1", domain.RequestSpec{
				Method: "GET",
				URL:    up.URL,
				Auth:   tt.auth,
			})
			require.NoError(t, err)

			got := up.request()
			if tt.header != "" {
				assert.Equal(t, tt.want, got.header.Get(tt.header))
				assert.Empty(t, got.query.Get(tt.header))
			} else {
				assert.Equal(t, tt.want, got.query.Get(tt.query))
				assert.Empty(t, got.header.Get(tt.query))
			}

			entry, err := store.GetHistory(ctx, "u1", res.HistoryID)
			require.NoError(t, err)
			assert.Equal(t, tt.auth, entry.Request.Auth)
			assert.NotContains(t, entry.Request.Headers, "Authorization")
		})
	}
}

func TestExecuteStringAndEmptyBodies(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "plain text")
	})
	store := newStore(t)
	exec := New(store, store)

	res, err := exec.Execute(context.Background(), "u1", domain.RequestSpec{
		Method: "PUT",
		URL:    up.URL,
		Body:   value.FromString("raw=1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "raw=1", up.request().body)
	assert.Equal(t, value.String, res.Data.Kind())
	assert.Equal(t, "plain text", res.Data.Str())
	assert.Equal(t, len(`"plain text"`), res.Size)

	_, err = exec.Execute(context.Background(), "u1", domain.RequestSpec{Method: "DELETE", URL: up.URL})
	require.NoError(t, err)
	assert.Empty(t, up.request().body)
}

func TestExecuteExtractsHTMLMeta(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head>
			<title>Fallback</title>
			<meta property="og:title" content=" Docs Home ">
			<meta name="description" content="API reference">
		</head><body></body></html>`)
	})
	store := newStore(t)

	res, err := New(store, store).Execute(context.Background(), "u1", domain.RequestSpec{Method: "GET", URL: up.URL})
	require.NoError(t, err)
	require.NotNil(t, res.Meta)
	assert.Equal(t, "Docs Home", res.Meta.Title)
	assert.Equal(t, "API reference", res.Meta.Description)
}

func TestExecuteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	store := newStore(t)
	events := &recordingEvents{}

	_, err := New(store, store, WithEvents(events)).Execute(context.Background(), "u1", domain.RequestSpec{
		Method: "GET",
		URL:    srv.URL,
	})
	require.Error(t, err)

	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Greater(t, execErr.ElapsedMs, int64(0))
	assert.NotEmpty(t, execErr.Message)

	list, err := store.ListHistory(context.Background(), "u1", domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, events.events)
}

func TestExecuteUnreachableHostReportsElapsedTime(t *testing.T) {
	store := newStore(t)
	events := &recordingEvents{}

	_, err := New(store, store, WithEvents(events), WithTimeout(5*time.Second)).Execute(context.Background(), "u1", domain.RequestSpec{
		Method: "GET",
		URL:    "http://127.0.0.1:1/unreachable",
	})
	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Greater(t, execErr.ElapsedMs, int64(0))

	list, err := store.ListHistory(context.Background(), "u1", domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, events.events)
}

func TestElapsedMillisRoundsUp(t *testing.T) {
	assert.Equal(t, int64(1), elapsedMillis(0))
	assert.Equal(t, int64(1), elapsedMillis(150*time.Microsecond))
	assert.Equal(t, int64(1), elapsedMillis(time.Millisecond))
	assert.Equal(t, int64(2), elapsedMillis(time.Millisecond+time.Nanosecond))
	assert.Equal(t, int64(30000), elapsedMillis(30*time.Second))
}

func TestExecuteMalformedURLIsExecutionError(t *testing.T) {
	store := newStore(t)
	_, err := New(store, store, WithTimeout(time.Second)).Execute(context.Background(), "u1", domain.RequestSpec{
		Method: "GET",
		URL:    "{{nothing}}/path",
	})
	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
}

func TestExecutePublishFailureDoesNotFailRequest(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, `{}`))
	store := newStore(t)
	events := &recordingEvents{err: errors.New("sink down")}

	res, err := New(store, store, WithEvents(events)).Execute(context.Background(), "u1", domain.RequestSpec{
		Method: "GET",
		URL:    up.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Len(t, events.events, 1)
}

func TestFlattenHeaders(t *testing.T) {
	got := flattenHeaders(http.Header{
		"Set-Cookie":   {"a=1", "b=2"},
		"Content-Type": {"text/plain"},
	})
	assert.Equal(t, map[string]string{
		"set-cookie":   "a=1, b=2",
		"content-type": "text/plain",
	}, got)
}

func TestParseMetaWithoutTags(t *testing.T) {
	meta, err := parseMeta([]byte(`<html><body>hi</body></html>`))
	require.NoError(t, err)
	assert.Nil(t, meta)
}
