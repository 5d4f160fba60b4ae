package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
)

// IdempotencyHeader carries the client's retry key on create requests.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 200

// ErrIdempotencyConflict indicates the key was already claimed.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// Idempotency claims a key inside the caller's transaction and binds it to
// the created resource, so a rolled back request releases its key.
type Idempotency interface {
	Claim(ctx context.Context, module, key string) error
	Bind(ctx context.Context, module, key string, resourceID int64) error
	Lookup(ctx context.Context, module, key string) (int64, error)
}

// CheckIdempotencyKey validates a client supplied key.
func CheckIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" || len(key) > maxIdempotencyKeyLen {
		return &ValidationError{Fields: []FieldError{{Field: "idempotency_key", Message: fmt.Sprintf("must be 1 to %d characters", maxIdempotencyKeyLen)}}}
	}
	return nil
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim inserts the key, failing with ErrIdempotencyConflict when it exists.
func (s *IdempotencyStore) Claim(ctx context.Context, module, key string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `INSERT INTO idempotency_keys (module, key, created_at) VALUES ($1, $2, $3)`, module, key, time.Now().UTC())
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Bind records the resource created under key.
func (s *IdempotencyStore) Bind(ctx context.Context, module, key string, resourceID int64) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `UPDATE idempotency_keys SET resource_id=$3 WHERE module=$1 AND key=$2`, module, key, resourceID)
	return err
}

// Lookup returns the resource bound to key.
func (s *IdempotencyStore) Lookup(ctx context.Context, module, key string) (int64, error) {
	var id *int64
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT resource_id FROM idempotency_keys WHERE module=$1 AND key=$2`, module, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && id == nil) {
		return 0, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return *id, nil
}

// Cleanup removes entries older than retention and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type idempotencyKey struct {
	module string
	key    string
}

type idempotencyEntry struct {
	resourceID int64
	createdAt  time.Time
}

// MemoryIdempotency keeps keys in process. It takes part in memory
// transactions so a failed create releases its claim.
type MemoryIdempotency struct {
	tx      *db.MemoryTransactor
	entries map[idempotencyKey]idempotencyEntry
	now     func() time.Time
}

// NewMemoryIdempotency constructs the store and registers it with tx.
func NewMemoryIdempotency(tx *db.MemoryTransactor) *MemoryIdempotency {
	s := &MemoryIdempotency{
		tx:      tx,
		entries: make(map[idempotencyKey]idempotencyEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
	tx.Register(s)
	return s
}

// Snapshot implements db.Participant.
func (s *MemoryIdempotency) Snapshot() func() {
	entries := make(map[idempotencyKey]idempotencyEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	return func() { s.entries = entries }
}

// Claim records key or fails with ErrIdempotencyConflict.
func (s *MemoryIdempotency) Claim(ctx context.Context, module, key string) error {
	return s.tx.Write(ctx, func() error {
		k := idempotencyKey{module: module, key: key}
		if _, ok := s.entries[k]; ok {
			return ErrIdempotencyConflict
		}
		s.entries[k] = idempotencyEntry{createdAt: s.now()}
		return nil
	})
}

// Bind records the resource created under key.
func (s *MemoryIdempotency) Bind(ctx context.Context, module, key string, resourceID int64) error {
	return s.tx.Write(ctx, func() error {
		k := idempotencyKey{module: module, key: key}
		entry, ok := s.entries[k]
		if !ok {
			return fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
		}
		entry.resourceID = resourceID
		s.entries[k] = entry
		return nil
	})
}

// Lookup returns the resource bound to key.
func (s *MemoryIdempotency) Lookup(ctx context.Context, module, key string) (int64, error) {
	var (
		entry idempotencyEntry
		ok    bool
	)
	s.tx.Read(ctx, func() { entry, ok = s.entries[idempotencyKey{module: module, key: key}] })
	if !ok || entry.resourceID == 0 {
		return 0, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	return entry.resourceID, nil
}

// Cleanup drops entries older than olderThan.
func (s *MemoryIdempotency) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	var removed int64
	err := s.tx.Write(ctx, func() error {
		cutoff := s.now().Add(-olderThan)
		for k, entry := range s.entries {
			if entry.createdAt.Before(cutoff) {
				delete(s.entries, k)
				removed++
			}
		}
		return nil
	})
	return removed, err
}
