package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/value"
)

// Built-in lower() folds ASCII only; history search matches the other backends
// through a Unicode fold.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("unicode_lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return nil, fmt.Errorf("unicode_lower: unsupported argument %T", v)
	}
}

// sqliteStore implements a Store on SQLite through database/sql.
type sqliteStore struct {
	db    *sql.DB
	clock *clock
}

func openSQLite(path string, c *clock) (Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one connection: SQLite serializes writers and :memory: is per connection
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, clock: c}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS variables (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			source     TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_variables_owner_key ON variables(owner_id, key);

		CREATE TABLE IF NOT EXISTS history (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			method     TEXT NOT NULL,
			url        TEXT NOT NULL,
			base_url   TEXT NOT NULL,
			request    TEXT NOT NULL,
			response   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_owner_created ON history(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_history_owner_base_url ON history(owner_id, base_url);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqliteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqliteStore) ListVariables(ctx context.Context, ownerID string) ([]domain.Variable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, key, value, source, updated_at
		FROM variables
		WHERE owner_id = ?
		ORDER BY key ASC`, ownerID)
	if err != nil {
		return nil, domain.Persistence("list variables", err)
	}
	defer rows.Close()

	out := make([]domain.Variable, 0)
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, domain.Persistence("list variables", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list variables", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariable(row rowScanner) (domain.Variable, error) {
	var (
		v         domain.Variable
		rawValue  string
		source    string
		updatedNs int64
	)
	if err := row.Scan(&v.ID, &v.OwnerID, &v.Key, &rawValue, &source, &updatedNs); err != nil {
		return domain.Variable{}, err
	}
	val, err := value.Parse([]byte(rawValue))
	if err != nil {
		return domain.Variable{}, err
	}
	v.Value = val
	v.Source = domain.VariableSource(source)
	v.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return v, nil
}

func (s *sqliteStore) GetVariable(ctx context.Context, ownerID, key string) (domain.Variable, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.Variable{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, key, value, source, updated_at
		FROM variables
		WHERE owner_id = ? AND key = ?`, ownerID, key)
	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Variable{}, variableNotFound()
	}
	if err != nil {
		return domain.Variable{}, domain.Persistence("get variable", err)
	}
	return v, nil
}

func (s *sqliteStore) UpsertVariable(ctx context.Context, ownerID, key string, val value.Value, source domain.VariableSource) (domain.Variable, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.Variable{}, err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return domain.Variable{}, fmt.Errorf("encode variable value: %w", err)
	}

	v := domain.Variable{
		OwnerID:   ownerID,
		Key:       key,
		Value:     val,
		Source:    domain.NormalizeSource(source),
		UpdatedAt: s.clock.Next(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO variables (id, owner_id, key, value, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, key) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			updated_at = excluded.updated_at
		RETURNING id`,
		domain.NewID(), ownerID, key, string(raw), string(v.Source), v.UpdatedAt.UnixNano(),
	).Scan(&v.ID)
	if err != nil {
		return domain.Variable{}, domain.Persistence("upsert variable", err)
	}
	return v, nil
}

func (s *sqliteStore) DeleteVariable(ctx context.Context, ownerID, identifier string) error {
	if domain.IsID(identifier) {
		n, err := s.exec(ctx, `DELETE FROM variables WHERE owner_id = ? AND id = ?`, ownerID, identifier)
		if err != nil {
			return domain.Persistence("delete variable", err)
		}
		if n > 0 {
			return nil
		}
	}
	n, err := s.exec(ctx, `DELETE FROM variables WHERE owner_id = ? AND key = ?`, ownerID, identifier)
	if err != nil {
		return domain.Persistence("delete variable", err)
	}
	if n == 0 {
		return variableNotFound()
	}
	return nil
}

func (s *sqliteStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) RecordHistory(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	entry.ID = domain.NewID()
	entry.Timestamp = s.clock.Next()

	req, err := json.Marshal(entry.Request)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("encode history request: %w", err)
	}
	resp, err := json.Marshal(entry.Response)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("encode history response: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (id, owner_id, method, url, base_url, request, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OwnerID, entry.Request.Method, entry.Request.URL, entry.Request.BaseURL,
		string(req), string(resp), entry.Timestamp.UnixNano(),
	)
	if err != nil {
		return domain.HistoryEntry{}, domain.Persistence("record history", err)
	}
	return entry, nil
}

func (s *sqliteStore) ListHistory(ctx context.Context, ownerID string, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{ownerID}
	)
	if filter.BaseURL != "" {
		where = append(where, "base_url = ?")
		args = append(args, filter.BaseURL)
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		where = append(where, "(instr(unicode_lower(url), ?) > 0 OR instr(unicode_lower(method), ?) > 0)")
		args = append(args, needle, needle)
	}
	args = append(args, domain.HistoryLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, request, response, created_at
		FROM history
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, domain.Persistence("list history", err)
	}
	defer rows.Close()

	out := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, domain.Persistence("list history", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list history", err)
	}
	return out, nil
}

func scanHistory(row rowScanner) (domain.HistoryEntry, error) {
	var (
		e         domain.HistoryEntry
		req, resp string
		createdNs int64
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &req, &resp, &createdNs); err != nil {
		return domain.HistoryEntry{}, err
	}
	if err := json.Unmarshal([]byte(req), &e.Request); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("decode history request: %w", err)
	}
	if err := json.Unmarshal([]byte(resp), &e.Response); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("decode history response: %w", err)
	}
	e.Timestamp = time.Unix(0, createdNs).UTC()
	return e, nil
}

func (s *sqliteStore) GetHistory(ctx context.Context, ownerID, id string) (domain.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, request, response, created_at
		FROM history
		WHERE owner_id = ? AND id = ?`, ownerID, id)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HistoryEntry{}, historyNotFound()
	}
	if err != nil {
		return domain.HistoryEntry{}, domain.Persistence("get history", err)
	}
	return e, nil
}

func (s *sqliteStore) DistinctBaseURLs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT base_url
		FROM history
		WHERE owner_id = ? AND base_url != ''
		ORDER BY base_url ASC`, ownerID)
	if err != nil {
		return nil, domain.Persistence("distinct base urls", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, domain.Persistence("distinct base urls", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("distinct base urls", err)
	}
	return out, nil
}

func (s *sqliteStore) DeleteHistory(ctx context.Context, ownerID, id string) error {
	n, err := s.exec(ctx, `DELETE FROM history WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return domain.Persistence("delete history", err)
	}
	if n == 0 {
		return historyNotFound()
	}
	return nil
}
