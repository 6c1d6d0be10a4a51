package jsonfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
	"github.com/prabinpebam/wan22-runpod/internal/port"
)

const (
	queueFile    = "wan22_queue.json"
	settingsFile = "wan22_api_config.json"
	themeFile    = "wan22_theme.json"
)

// Store persists each storage key as its own JSON file under dataDir,
// written atomically via tmp+rename.
type Store struct {
	mu      sync.Mutex
	dataDir string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *Store) read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) write(name string, data []byte) error {
	path := s.path(name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *Store) SaveQueue(jobs []*domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := domain.EncodeQueue(jobs)
	if err != nil {
		return err
	}
	return s.write(queueFile, data)
}

// LoadQueue returns the persisted queue. Corrupted data is cleared and
// yields an empty queue; startup never fails on it.
func (s *Store) LoadQueue() ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read(queueFile)
	if err != nil {
		return nil, err
	}

	jobs, err := domain.DecodeQueue(data)
	if err != nil {
		logger.Warn.Printf("corrupt queue snapshot, starting empty: %v", err)
		_ = os.Remove(s.path(queueFile))
		return nil, nil
	}
	return jobs, nil
}

func (s *Store) SaveAPIConfig(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(settingsFile, blob)
}

func (s *Store) LoadAPIConfig() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(settingsFile)
}

func (s *Store) SaveTheme(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(name)
	if err != nil {
		return err
	}
	return s.write(themeFile, data)
}

func (s *Store) LoadTheme() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read(themeFile)
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
