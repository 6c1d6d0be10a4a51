package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
	"github.com/prabinpebam/wan22-runpod/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	keyQueue     = "wan22_queue"
	keyAPIConfig = "wan22_api_config"
	keyTheme     = "wan22_theme"
)

// Store keeps every storage key as an opaque blob in a single kv table.
type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	dbPath := filepath.Join(dataDir, "wan22.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: WAL allows concurrent reads but only one writer
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *Store) get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

func (s *Store) delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) SaveQueue(jobs []*domain.Job) error {
	data, err := domain.EncodeQueue(jobs)
	if err != nil {
		return err
	}
	return s.put(keyQueue, data)
}

// LoadQueue returns the persisted queue. Corrupted data is cleared and
// yields an empty queue; startup never fails on it.
func (s *Store) LoadQueue() ([]*domain.Job, error) {
	data, err := s.get(keyQueue)
	if err != nil {
		return nil, err
	}

	jobs, err := domain.DecodeQueue(data)
	if err != nil {
		logger.Warn.Printf("corrupt queue snapshot, starting empty: %v", err)
		_ = s.delete(keyQueue)
		return nil, nil
	}
	return jobs, nil
}

func (s *Store) SaveAPIConfig(blob []byte) error {
	return s.put(keyAPIConfig, blob)
}

func (s *Store) LoadAPIConfig() ([]byte, error) {
	return s.get(keyAPIConfig)
}

func (s *Store) SaveTheme(name string) error {
	data, err := json.Marshal(name)
	if err != nil {
		return err
	}
	return s.put(keyTheme, data)
}

func (s *Store) LoadTheme() (string, error) {
	data, err := s.get(keyTheme)
	if err != nil || len(data) == 0 {
		return "", err
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return "", nil
	}
	return name, nil
}

var (
	_ port.QueueStore    = (*Store)(nil)
	_ port.SettingsStore = (*Store)(nil)
)
