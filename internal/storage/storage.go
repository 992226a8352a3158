// Package storage persists variables and request history.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/value"
)

// VariableStore keeps per-owner variables with unique keys.
type VariableStore interface {
	ListVariables(ctx context.Context, ownerID string) ([]domain.Variable, error)
	GetVariable(ctx context.Context, ownerID, key string) (domain.Variable, error)
	UpsertVariable(ctx context.Context, ownerID, key string, val value.Value, source domain.VariableSource) (domain.Variable, error)
	// DeleteVariable removes by record id when identifier looks like one, else by key.
	DeleteVariable(ctx context.Context, ownerID, identifier string) error
}

// HistoryStore keeps immutable executed request/response pairs.
type HistoryStore interface {
	RecordHistory(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error)
	ListHistory(ctx context.Context, ownerID string, filter domain.HistoryFilter) ([]domain.HistoryEntry, error)
	GetHistory(ctx context.Context, ownerID, id string) (domain.HistoryEntry, error)
	DistinctBaseURLs(ctx context.Context, ownerID string) ([]string, error)
	DeleteHistory(ctx context.Context, ownerID, id string) error
}

// Store is a complete persistence backend.
type Store interface {
	VariableStore
	HistoryStore
	Close() error
}

const (
	TypeMemory = "memory"
	TypeBBolt  = "bbolt"
	TypeSQLite = "sqlite"
)

// Options tunes concrete store implementations.
type Options struct {
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	clock := newClock(opts.Now)

	switch typ {
	case "", TypeMemory:
		return newMemoryStore(clock), nil
	case TypeBBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, clock)
	case TypeSQLite:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		return openSQLite(path, clock)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// normalizeKey trims a variable key and rejects empty keys.
func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", &domain.ValidationError{Msg: "variable key is required"}
	}
	return key, nil
}

func variableNotFound() error { return &domain.NotFoundError{Resource: "Variable"} }
func historyNotFound() error  { return &domain.NotFoundError{Resource: "History item"} }

// clock hands out strictly increasing UTC timestamps so history order is total.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

func (c *clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// sortVariables orders by key ascending.
func sortVariables(vars []domain.Variable) {
	sort.Slice(vars, func(i, j int) bool { return vars[i].Key < vars[j].Key })
}

// newerFirst orders history by timestamp descending, id descending on ties.
func newerFirst(entries []domain.HistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}

// sortedSet returns the keys of set in ascending order, never nil.
func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
