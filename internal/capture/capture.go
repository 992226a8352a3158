// Package capture turns values found in recorded responses into variables.
package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/logger"
	"github.com/samvad-hq/nexlink/internal/storage"
	"github.com/samvad-hq/nexlink/internal/value"
)

// Request names the history entry, the JSONPath into its response data and
// the variable key that receives the match.
type Request struct {
	HistoryID string `json:"historyId"`
	Path      string `json:"path"`
	Key       string `json:"key"`
}

// Service captures response values.
type Service struct {
	history storage.HistoryStore
	vars    storage.VariableStore
	log     logger.Logger
}

// New returns a Service over the given stores.
func New(history storage.HistoryStore, vars storage.VariableStore, log logger.Logger) *Service {
	return &Service{history: history, vars: vars, log: logger.Ensure(log)}
}

// Capture evaluates req.Path against the response data of the owner's
// history entry and upserts the result under req.Key with source=response.
func (s *Service) Capture(ctx context.Context, ownerID string, req Request) (domain.Variable, error) {
	key := strings.TrimSpace(req.Key)
	path := normalizePath(req.Path)
	if key == "" {
		return domain.Variable{}, &domain.ValidationError{Msg: "variable key is required"}
	}
	if path == "" {
		return domain.Variable{}, &domain.ValidationError{Msg: "path is required"}
	}
	if strings.TrimSpace(req.HistoryID) == "" {
		return domain.Variable{}, &domain.ValidationError{Msg: "historyId is required"}
	}

	entry, err := s.history.GetHistory(ctx, ownerID, strings.TrimSpace(req.HistoryID))
	if err != nil {
		return domain.Variable{}, err
	}

	val, err := Extract(entry.Response.Data, path)
	if err != nil {
		return domain.Variable{}, err
	}

	v, err := s.vars.UpsertVariable(ctx, ownerID, key, val, domain.SourceResponse)
	if err != nil {
		return domain.Variable{}, err
	}
	s.log.InfoObj("variable captured from response", "variable_capture", map[string]any{
		"owner_id":   ownerID,
		"history_id": entry.ID,
		"key":        key,
		"path":       path,
	})
	return v, nil
}

// Extract evaluates a JSONPath expression against data. A path that matches
// nothing is a validation error.
func Extract(data value.Value, path string) (value.Value, error) {
	path = normalizePath(path)
	if path == "" {
		return value.Value{}, &domain.ValidationError{Msg: "path is required"}
	}

	raw, err := jsonpath.Get(path, data.ToAny())
	if err != nil {
		return value.Value{}, &domain.ValidationError{Msg: fmt.Sprintf("path %q did not match: %v", path, err)}
	}
	if items, ok := raw.([]any); ok && len(items) == 0 {
		return value.Value{}, &domain.ValidationError{Msg: fmt.Sprintf("path %q did not match", path)}
	}

	out, err := value.FromAny(raw)
	if err != nil {
		return value.Value{}, &domain.ValidationError{Msg: fmt.Sprintf("path %q: %v", path, err)}
	}
	return out, nil
}

// normalizePath accepts "data.token" and ".data.token" as shorthand for "$.data.token".
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case p == "", strings.HasPrefix(p, "$"):
		return p
	case strings.HasPrefix(p, ".") || strings.HasPrefix(p, "["):
		return "$" + p
	default:
		return "$." + p
	}
}
