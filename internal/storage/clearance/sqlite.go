// Package clearance persists browser-challenge clearance tokens per identity
// with a fixed lifetime, so a restart inside that window skips the solver.
package clearance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	_ "modernc.org/sqlite"
)

const DefaultTTL = 25 * time.Minute

type Record struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Valid     bool
}

type Option func(*Store)

// WithClock replaces time.Now for every validity decision.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type Store struct {
	db   *sql.DB
	now  func() time.Time
	memo *ttlcache.Cache[string, Record]

	// serializes writers; sqlite allows one at a time anyway.
	mu       sync.Mutex
	initOnce sync.Once
	initErr  error
}

func NewStore(dbPath string, opts ...Option) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		now: time.Now,
		memo: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, Record](),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the schema. Safe to call more than once.
func (s *Store) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		_, s.initErr = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS clearance_records (
        identity_key TEXT PRIMARY KEY,
        token TEXT NOT NULL,
        created_at INTEGER NOT NULL,
        expires_at INTEGER NOT NULL
    )`)
		if s.initErr == nil {
			_, s.initErr = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_clearance_expires ON clearance_records(expires_at)`)
		}
	})
	return s.initErr
}

func (s *Store) Close() error {
	if s.memo != nil {
		s.memo.DeleteAll()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the token for key. ttl <= 0 means DefaultTTL.
func (s *Store) Save(ctx context.Context, key, token string, ttl time.Duration) error {
	key = normalizeKey(key)
	if key == "" {
		return errors.New("identity key is required")
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("clearance token is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	createdAt := s.now().UTC()
	expiresAt := createdAt.Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO clearance_records(identity_key, token, created_at, expires_at)
    VALUES(?, ?, ?, ?)
    ON CONFLICT(identity_key) DO UPDATE SET
        token = excluded.token,
        created_at = excluded.created_at,
        expires_at = excluded.expires_at`,
		key, token, createdAt.UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save clearance: %w", err)
	}

	s.memo.Set(key, Record{Token: token, CreatedAt: createdAt, ExpiresAt: expiresAt}, ttl)
	return nil
}

// GetValid returns the token for key when it has not expired. A stale
// record is reported as a miss and left in place.
func (s *Store) GetValid(ctx context.Context, key string) (string, bool, error) {
	key = normalizeKey(key)
	now := s.now()

	if item := s.memo.Get(key); item != nil {
		rec := item.Value()
		if rec.ExpiresAt.After(now) {
			return rec.Token, true, nil
		}
		return "", false, nil
	}

	// Read and fill under mu, or a racing Delete gets resurrected by the memo.
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.get(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	if !rec.ExpiresAt.After(now) {
		return "", false, nil
	}

	s.memo.Set(key, rec, rec.ExpiresAt.Sub(now))
	return rec.Token, true, nil
}

func (s *Store) get(ctx context.Context, key string) (Record, bool, error) {
	var token string
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT token, created_at, expires_at FROM clearance_records WHERE identity_key = ?`, key).
		Scan(&token, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read clearance: %w", err)
	}
	return Record{
		Token:     token,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
	}, true, nil
}

// Delete removes the record for key and reports whether one existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	key = normalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.memo.Delete(key)
	res, err := s.db.ExecContext(ctx, `DELETE FROM clearance_records WHERE identity_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete clearance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SweepExpired deletes every record with expires_at <= now.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM clearance_records WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep clearance records: %w", err)
	}
	s.memo.DeleteAll()
	return res.RowsAffected()
}

func (s *Store) List(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity_key, token, created_at, expires_at FROM clearance_records ORDER BY identity_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clearance records: %w", err)
	}
	defer rows.Close()

	now := s.now()
	out := map[string]Record{}
	for rows.Next() {
		var key, token string
		var createdAt, expiresAt int64
		if err := rows.Scan(&key, &token, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		rec := Record{
			Token:     token,
			CreatedAt: time.UnixMilli(createdAt).UTC(),
			ExpiresAt: time.UnixMilli(expiresAt).UTC(),
		}
		rec.Valid = rec.ExpiresAt.After(now)
		out[key] = rec
	}
	return out, rows.Err()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
