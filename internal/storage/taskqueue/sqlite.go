package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Task struct {
	Position int
	Name     string
	Status   string
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
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

	s := &Store{db: db}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS wallet_tasks (
        wallet_key TEXT NOT NULL,
        position INTEGER NOT NULL,
        name TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending',
        PRIMARY KEY(wallet_key, position)
    )`)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seed stores the task list for a wallet once. A wallet that already has
// tasks keeps them, so an interrupted run resumes where it stopped.
func (s *Store) Seed(ctx context.Context, walletKey string, tasks []string) (bool, error) {
	walletKey = normalizeKey(walletKey)
	if walletKey == "" {
		return false, errors.New("wallet key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallet_tasks WHERE wallet_key = ?`, walletKey).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	for idx, name := range tasks {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO wallet_tasks(wallet_key, position, name, status) VALUES(?, ?, ?, ?)`,
			walletKey, idx, name, StatusPending); err != nil {
			return false, fmt.Errorf("failed to seed task %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// PendingTasks returns the names not yet completed, in seed order.
func (s *Store) PendingTasks(ctx context.Context, walletKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM wallet_tasks WHERE wallet_key = ? AND status != ? ORDER BY position`,
		normalizeKey(walletKey), StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) Tasks(ctx context.Context, walletKey string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position, name, status FROM wallet_tasks WHERE wallet_key = ? ORDER BY position`,
		normalizeKey(walletKey))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.Position, &t.Name, &t.Status); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateStatus sets the status of the first task with this name that is not
// already completed.
func (s *Store) UpdateStatus(ctx context.Context, walletKey, name, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE wallet_tasks SET status = ?
    WHERE wallet_key = ? AND position = (
        SELECT position FROM wallet_tasks
        WHERE wallet_key = ? AND name = ? AND status != ?
        ORDER BY position LIMIT 1
    )`, status, normalizeKey(walletKey), normalizeKey(walletKey), name, StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to update task %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %q not found for wallet", name)
	}
	return nil
}

// Reset drops every task of the wallet.
func (s *Store) Reset(ctx context.Context, walletKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM wallet_tasks WHERE wallet_key = ?`, normalizeKey(walletKey))
	return err
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
