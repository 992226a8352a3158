package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/value"
)

// backends opens every Store implementation against a fresh location.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		TypeMemory: func(t *testing.T) Store {
			s, err := NewStore(TypeMemory, "", Options{})
			require.NoError(t, err)
			return s
		},
		TypeBBolt: func(t *testing.T) Store {
			s, err := NewStore(TypeBBolt, filepath.Join(t.TempDir(), "data", "nexlink.db"), Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		TypeSQLite: func(t *testing.T) Store {
			s, err := NewStore(TypeSQLite, filepath.Join(t.TempDir(), "nexlink.sqlite"), Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func entry(owner, method, url string) domain.HistoryEntry {
	return domain.HistoryEntry{
		OwnerID: owner,
		Request: domain.RecordedRequest{
			Method:  method,
			URL:     url,
			BaseURL: domain.BaseOrigin(url),
			Headers: map[string]string{"Accept": "application/json"},
			Params:  map[string]string{},
			Body:    value.Value{},
			Auth:    domain.BearerAuth{Token: "abc"},
		},
		Response: domain.RecordedResponse{
			Status:     200,
			StatusText: "OK",
			Headers:    map[string]string{"content-type": "application/json"},
			Data:       value.FromObject(map[string]value.Value{"ok": value.FromBool(true)}),
			Size:       11,
		},
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	_, err := NewStore("mongo", "x", Options{})
	require.Error(t, err)

	_, err = NewStore(TypeBBolt, " ", Options{})
	require.Error(t, err)

	_, err = NewStore(TypeSQLite, "", Options{})
	require.Error(t, err)
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClock(func() time.Time { return fixed })

	first := c.Next()
	second := c.Next()
	assert.True(t, first.Equal(fixed))
	assert.True(t, second.After(first))
}

func TestVariableUpsertKeepsOneRecordPerKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.UpsertVariable(ctx, "u1", "  token ", value.FromString("a"), "")
		require.NoError(t, err)
		assert.Equal(t, "token", first.Key)
		assert.Equal(t, domain.SourceManual, first.Source)
		assert.True(t, domain.IsID(first.ID))

		second, err := s.UpsertVariable(ctx, "u1", "token", value.FromString("b"), domain.SourceResponse)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

		vars, err := s.ListVariables(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, vars, 1)
		assert.Equal(t, "b", vars[0].Value.Str())
		assert.Equal(t, domain.SourceResponse, vars[0].Source)

		got, err := s.GetVariable(ctx, "u1", "token")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})
}

func TestVariableStructuredValuesRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		val := value.FromObject(map[string]value.Value{
			"n":    value.FromInt(3),
			"list": value.FromArray([]value.Value{value.FromString("x"), {}}),
		})

		_, err := s.UpsertVariable(ctx, "u1", "cfg", val, domain.SourceManual)
		require.NoError(t, err)

		got, err := s.GetVariable(ctx, "u1", "cfg")
		require.NoError(t, err)
		assert.True(t, val.Equal(got.Value), "got %s", got.Value.Text())
	})
}

func TestVariableEmptyKeyIsRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.UpsertVariable(context.Background(), "u1", "   ", value.FromString("x"), "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}

func TestVariablesListedByKeyAscending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, k := range []string{"zeta", "alpha", "mid"} {
			_, err := s.UpsertVariable(ctx, "u1", k, value.FromString(k), "")
			require.NoError(t, err)
		}

		vars, err := s.ListVariables(ctx, "u1")
		require.NoError(t, err)
		keys := make([]string, 0, len(vars))
		for _, v := range vars {
			keys = append(keys, v.Key)
		}
		assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)

		empty, err := s.ListVariables(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})
}

func TestVariableDeleteByIDOrKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, err := s.UpsertVariable(ctx, "u1", "a", value.FromString("1"), "")
		require.NoError(t, err)
		_, err = s.UpsertVariable(ctx, "u1", "b", value.FromString("2"), "")
		require.NoError(t, err)

		require.NoError(t, s.DeleteVariable(ctx, "u1", a.ID))
		require.NoError(t, s.DeleteVariable(ctx, "u1", "b"))

		err = s.DeleteVariable(ctx, "u1", "b")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.EqualError(t, err, "Variable not found")

		_, err = s.GetVariable(ctx, "u1", "a")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestVariablesAreOwnerScoped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mine, err := s.UpsertVariable(ctx, "u1", "shared", value.FromString("mine"), "")
		require.NoError(t, err)
		_, err = s.UpsertVariable(ctx, "u2", "shared", value.FromString("theirs"), "")
		require.NoError(t, err)

		err = s.DeleteVariable(ctx, "u2", mine.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		got, err := s.GetVariable(ctx, "u1", "shared")
		require.NoError(t, err)
		assert.Equal(t, "mine", got.Value.Str())

		others, err := s.ListVariables(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, others, 1)
		assert.Equal(t, "theirs", others[0].Value.Str())
	})
}

func TestHistoryRecordAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec, err := s.RecordHistory(ctx, entry("u1", "GET", "https://api.example.com/users?page=1"))
		require.NoError(t, err)
		assert.True(t, domain.IsID(rec.ID))
		assert.False(t, rec.Timestamp.IsZero())

		got, err := s.GetHistory(ctx, "u1", rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "https://api.example.com", got.Request.BaseURL)
		assert.Equal(t, domain.BearerAuth{Token: "abc"}, got.Request.Auth)
		assert.Equal(t, 200, got.Response.Status)
		assert.True(t, rec.Timestamp.Equal(got.Timestamp))

		_, err = s.GetHistory(ctx, "u2", rec.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.EqualError(t, err, "History item not found")
	})
}

func TestHistoryNewestFirstAndCapped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		total := domain.HistoryLimit + 5
		ids := make([]string, 0, total)
		for i := 0; i < total; i++ {
			rec, err := s.RecordHistory(ctx, entry("u1", "GET", fmt.Sprintf("https://api.example.com/items/%d", i)))
			require.NoError(t, err)
			ids = append(ids, rec.ID)
		}

		list, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, list, domain.HistoryLimit)
		assert.Equal(t, ids[total-1], list[0].ID)
		for i := 1; i < len(list); i++ {
			assert.True(t, list[i-1].Timestamp.After(list[i].Timestamp), "entry %d not older than %d", i, i-1)
		}
	})
}

func TestHistoryFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.RecordHistory(ctx, entry("u1", "GET", "https://api.example.com/Users"))
		require.NoError(t, err)
		_, err = s.RecordHistory(ctx, entry("u1", "POST", "https://other.example.com/orders"))
		require.NoError(t, err)
		_, err = s.RecordHistory(ctx, entry("u1", "DELETE", "https://api.example.com/orders/1"))
		require.NoError(t, err)
		_, err = s.RecordHistory(ctx, entry("u2", "GET", "https://api.example.com/users"))
		require.NoError(t, err)

		bySearch, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{Search: "users"})
		require.NoError(t, err)
		require.Len(t, bySearch, 1)
		assert.Equal(t, "https://api.example.com/Users", bySearch[0].Request.URL)

		byMethod, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{Search: "pos"})
		require.NoError(t, err)
		require.Len(t, byMethod, 1)
		assert.Equal(t, "POST", byMethod[0].Request.Method)

		byBase, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{BaseURL: "https://api.example.com"})
		require.NoError(t, err)
		assert.Len(t, byBase, 2)

		both, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{Search: "ORDERS", BaseURL: "https://api.example.com"})
		require.NoError(t, err)
		require.Len(t, both, 1)
		assert.Equal(t, "DELETE", both[0].Request.Method)

		none, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{Search: "%"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestHistoryEntriesAreNotAliased(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in := entry("u1", "GET", "https://api.example.com/users")
		saved, err := s.RecordHistory(ctx, in)
		require.NoError(t, err)
		in.Request.Headers["Accept"] = "changed-input"

		got, err := s.GetHistory(ctx, "u1", saved.ID)
		require.NoError(t, err)
		got.Request.Headers["Accept"] = "changed-get"
		got.Response.Headers["content-type"] = "changed-get"

		list, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		list[0].Request.Headers["Accept"] = "changed-list"

		again, err := s.GetHistory(ctx, "u1", saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "application/json", again.Request.Headers["Accept"])
		assert.Equal(t, "application/json", again.Response.Headers["content-type"])
	})
}

func TestHistorySearchFoldsUnicode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.RecordHistory(ctx, entry("u1", "GET", "https://api.example.com/ÜBER/Straße"))
		require.NoError(t, err)
		_, err = s.RecordHistory(ctx, entry("u1", "GET", "https://api.example.com/plain"))
		require.NoError(t, err)

		for _, needle := range []string{"über", "ÜBER", "STRAßE", "/üBeR/"} {
			got, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{Search: needle})
			require.NoError(t, err)
			require.Len(t, got, 1, needle)
			assert.Equal(t, "https://api.example.com/ÜBER/Straße", got[0].Request.URL)
		}
	})
}

func TestHistoryDistinctBaseURLs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, u := range []string{
			"https://b.example.com/x",
			"https://a.example.com/y",
			"https://b.example.com/z",
			"not a url",
		} {
			_, err := s.RecordHistory(ctx, entry("u1", "GET", u))
			require.NoError(t, err)
		}
		_, err := s.RecordHistory(ctx, entry("u2", "GET", "https://c.example.com"))
		require.NoError(t, err)

		urls, err := s.DistinctBaseURLs(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, urls)

		empty, err := s.DistinctBaseURLs(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})
}

func TestHistoryDeleteIsOwnerScoped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec, err := s.RecordHistory(ctx, entry("u1", "GET", "https://api.example.com"))
		require.NoError(t, err)

		err = s.DeleteHistory(ctx, "u2", rec.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		require.NoError(t, s.DeleteHistory(ctx, "u1", rec.ID))

		err = s.DeleteHistory(ctx, "u1", rec.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		list, err := s.ListHistory(ctx, "u1", domain.HistoryFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexlink.db")
	ctx := context.Background()

	s, err := NewStore(TypeBBolt, path, Options{})
	require.NoError(t, err)
	_, err = s.UpsertVariable(ctx, "u1", "host", value.FromString("example.com"), "")
	require.NoError(t, err)
	rec, err := s.RecordHistory(ctx, entry("u1", "GET", "https://example.com"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(TypeBBolt, path, Options{})
	require.NoError(t, err)
	defer s.Close()

	v, err := s.GetVariable(ctx, "u1", "host")
	require.NoError(t, err)
	assert.Equal(t, "example.com", v.Value.Str())

	got, err := s.GetHistory(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.Request.URL)
}
