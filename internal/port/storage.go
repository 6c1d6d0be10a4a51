package port

import "github.com/prabinpebam/wan22-runpod/internal/domain"

// QueueStore persists the queue snapshot. LoadQueue never fails on
// corrupted data; it clears the stored value and returns an empty queue.
type QueueStore interface {
	SaveQueue(jobs []*domain.Job) error
	LoadQueue() ([]*domain.Job, error)
}

// SettingsStore persists the API configuration blob and the UI theme
// preference. The config blob is opaque to the store; sealing is the
// settings service's concern.
type SettingsStore interface {
	SaveAPIConfig(blob []byte) error
	LoadAPIConfig() ([]byte, error)
	SaveTheme(name string) error
	LoadTheme() (string, error)
}
