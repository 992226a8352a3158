package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/samvad-hq/nexlink/internal/domain"
	"github.com/samvad-hq/nexlink/internal/value"
)

const (
	variableBucket = "variables"
	historyBucket  = "history"
	entriesBucket  = "entries"
	idsBucket      = "ids"
	timeKeyBytes   = 8
)

// boltStore implements a Store backed by BoltDB.
//
// Layout:
//
//	variables/<owner>/<key>            -> Variable JSON
//	history/<owner>/entries/<ts><id>   -> HistoryEntry JSON (ts is big-endian unix nanos)
//	history/<owner>/ids/<id>           -> entry key
type boltStore struct {
	db    *bolt.DB
	clock *clock
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, c *clock) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{variableBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &boltStore{db: db, clock: c}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// ownerBucket returns the nested bucket of ownerID under root, or nil if absent.
func ownerBucket(tx *bolt.Tx, root, ownerID string) *bolt.Bucket {
	top := tx.Bucket([]byte(root))
	if top == nil {
		return nil
	}
	return top.Bucket([]byte(ownerID))
}

// ensureOwnerBucket creates the nested bucket of ownerID under root.
func ensureOwnerBucket(tx *bolt.Tx, root, ownerID string) (*bolt.Bucket, error) {
	top := tx.Bucket([]byte(root))
	if top == nil {
		return nil, fmt.Errorf("%s bucket missing", root)
	}
	return top.CreateBucketIfNotExists([]byte(ownerID))
}

func (b *boltStore) ListVariables(_ context.Context, ownerID string) ([]domain.Variable, error) {
	out := make([]domain.Variable, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := ownerBucket(tx, variableBucket, ownerID)
		if bucket == nil {
			return nil
		}
		// bolt iterates keys in byte order, which is key ascending
		return bucket.ForEach(func(_, raw []byte) error {
			var v domain.Variable
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode variable: %w", err)
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, domain.Persistence("list variables", err)
	}
	return out, nil
}

func (b *boltStore) GetVariable(_ context.Context, ownerID, key string) (domain.Variable, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.Variable{}, err
	}
	var v domain.Variable
	err = b.db.View(func(tx *bolt.Tx) error {
		bucket := ownerBucket(tx, variableBucket, ownerID)
		if bucket == nil {
			return variableNotFound()
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return variableNotFound()
		}
		return json.Unmarshal(raw, &v)
	})
	if err != nil {
		return domain.Variable{}, domain.Persistence("get variable", err)
	}
	return v, nil
}

func (b *boltStore) UpsertVariable(_ context.Context, ownerID, key string, val value.Value, source domain.VariableSource) (domain.Variable, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.Variable{}, err
	}

	var v domain.Variable
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := ensureOwnerBucket(tx, variableBucket, ownerID)
		if err != nil {
			return err
		}
		if raw := bucket.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode variable: %w", err)
			}
		} else {
			v = domain.Variable{ID: domain.NewID(), OwnerID: ownerID, Key: key}
		}
		v.Value = val
		v.Source = domain.NormalizeSource(source)
		v.UpdatedAt = b.clock.Next()

		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode variable: %w", err)
		}
		return bucket.Put([]byte(key), raw)
	})
	if err != nil {
		return domain.Variable{}, domain.Persistence("upsert variable", err)
	}
	return v, nil
}

func (b *boltStore) DeleteVariable(_ context.Context, ownerID, identifier string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := ownerBucket(tx, variableBucket, ownerID)
		if bucket == nil {
			return variableNotFound()
		}

		if domain.IsID(identifier) {
			var match []byte
			err := bucket.ForEach(func(k, raw []byte) error {
				var v domain.Variable
				if err := json.Unmarshal(raw, &v); err != nil {
					return fmt.Errorf("decode variable: %w", err)
				}
				if v.ID == identifier {
					match = append([]byte(nil), k...)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if match != nil {
				return bucket.Delete(match)
			}
		}

		if bucket.Get([]byte(identifier)) == nil {
			return variableNotFound()
		}
		return bucket.Delete([]byte(identifier))
	})
	return domain.Persistence("delete variable", err)
}

// historyKey sorts entries by creation time, then id.
func historyKey(ts time.Time, id string) []byte {
	key := make([]byte, timeKeyBytes, timeKeyBytes+len(id))
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return append(key, id...)
}

func (b *boltStore) RecordHistory(_ context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	entry.ID = domain.NewID()

	err := b.db.Update(func(tx *bolt.Tx) error {
		owner, err := ensureOwnerBucket(tx, historyBucket, entry.OwnerID)
		if err != nil {
			return err
		}
		entries, err := owner.CreateBucketIfNotExists([]byte(entriesBucket))
		if err != nil {
			return err
		}
		ids, err := owner.CreateBucketIfNotExists([]byte(idsBucket))
		if err != nil {
			return err
		}

		// stamped inside the write transaction so key order matches commit order
		entry.Timestamp = b.clock.Next()
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		key := historyKey(entry.Timestamp, entry.ID)
		if err := entries.Put(key, raw); err != nil {
			return err
		}
		return ids.Put([]byte(entry.ID), key)
	})
	if err != nil {
		return domain.HistoryEntry{}, domain.Persistence("record history", err)
	}
	return entry, nil
}

func (b *boltStore) ListHistory(_ context.Context, ownerID string, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	out := make([]domain.HistoryEntry, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		entries := historySubBucket(tx, ownerID, entriesBucket)
		if entries == nil {
			return nil
		}
		cursor := entries.Cursor()
		for k, raw := cursor.Last(); k != nil && len(out) < domain.HistoryLimit; k, raw = cursor.Prev() {
			var e domain.HistoryEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("decode history entry: %w", err)
			}
			if filter.Matches(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("list history", err)
	}
	return out, nil
}

func historySubBucket(tx *bolt.Tx, ownerID, name string) *bolt.Bucket {
	owner := ownerBucket(tx, historyBucket, ownerID)
	if owner == nil {
		return nil
	}
	return owner.Bucket([]byte(name))
}

func (b *boltStore) GetHistory(_ context.Context, ownerID, id string) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		ids := historySubBucket(tx, ownerID, idsBucket)
		entries := historySubBucket(tx, ownerID, entriesBucket)
		if ids == nil || entries == nil {
			return historyNotFound()
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return historyNotFound()
		}
		raw := entries.Get(key)
		if raw == nil {
			return historyNotFound()
		}
		return json.Unmarshal(raw, &e)
	})
	if err != nil {
		return domain.HistoryEntry{}, domain.Persistence("get history", err)
	}
	return e, nil
}

func (b *boltStore) DistinctBaseURLs(_ context.Context, ownerID string) ([]string, error) {
	set := make(map[string]struct{})
	err := b.db.View(func(tx *bolt.Tx) error {
		entries := historySubBucket(tx, ownerID, entriesBucket)
		if entries == nil {
			return nil
		}
		return entries.ForEach(func(_, raw []byte) error {
			var e struct {
				Request struct {
					BaseURL string `json:"baseUrl"`
				} `json:"request"`
			}
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("decode history entry: %w", err)
			}
			if e.Request.BaseURL != "" {
				set[e.Request.BaseURL] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, domain.Persistence("distinct base urls", err)
	}
	return sortedSet(set), nil
}

func (b *boltStore) DeleteHistory(_ context.Context, ownerID, id string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		ids := historySubBucket(tx, ownerID, idsBucket)
		entries := historySubBucket(tx, ownerID, entriesBucket)
		if ids == nil || entries == nil {
			return historyNotFound()
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return historyNotFound()
		}
		key = append([]byte(nil), key...)
		if err := entries.Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
	return domain.Persistence("delete history", err)
}
