package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
	"github.com/prabinpebam/wan22-runpod/internal/port"
)

// SettingsService owns the API configuration and theme preference. The
// credential is sealed at rest with ChaCha20-Poly1305 when a secret is
// configured; without one it is stored as-is, matching the original
// behavior.
type SettingsService struct {
	mu      sync.RWMutex
	store   port.SettingsStore
	sealKey []byte
	cfg     domain.APIConfig
	theme   string
}

type storedConfig struct {
	Endpoint  string `json:"endpoint"`
	APIKey    string `json:"apiKey,omitempty"`
	SealedKey string `json:"sealedKey,omitempty"`
}

func NewSettingsService(store port.SettingsStore, secret string) *SettingsService {
	s := &SettingsService{store: store}
	if secret != "" {
		key := sha256.Sum256([]byte(secret))
		s.sealKey = key[:]
	}
	return s
}

// Load reads the persisted configuration. Corrupted or unsealable data
// leaves the service unconfigured rather than failing startup.
func (s *SettingsService) Load() error {
	blob, err := s.store.LoadAPIConfig()
	if err != nil {
		return fmt.Errorf("load api config: %w", err)
	}

	theme, err := s.store.LoadTheme()
	if err != nil {
		return fmt.Errorf("load theme: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = theme

	if len(blob) == 0 {
		return nil
	}

	var stored storedConfig
	if err := json.Unmarshal(blob, &stored); err != nil {
		logger.Warn.Printf("corrupt api config, ignoring: %v", err)
		return nil
	}

	apiKey := stored.APIKey
	if stored.SealedKey != "" {
		apiKey, err = s.unseal(stored.SealedKey)
		if err != nil {
			logger.Warn.Printf("cannot unseal stored credential: %v", err)
			apiKey = ""
		}
	}

	s.cfg = domain.APIConfig{
		Endpoint: stored.Endpoint,
		APIKey:   apiKey,
	}
	if s.cfg.Configured() {
		logger.Info.Printf("api config loaded: endpoint=%s key=%s",
			logger.SanitizeForLog(s.cfg.Endpoint), logger.RedactCredential(s.cfg.APIKey))
	}
	return nil
}

// APIConfig returns the current configuration. Implements the client's
// credential source, so settings saves apply to in-flight polling
// without a restart.
func (s *SettingsService) APIConfig() domain.APIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetAPIConfig validates, persists, and applies a new configuration.
func (s *SettingsService) SetAPIConfig(cfg domain.APIConfig) error {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return errors.New("endpoint and api key are required")
	}

	stored := storedConfig{Endpoint: cfg.Endpoint}
	if s.sealKey != nil {
		sealed, err := s.seal(cfg.APIKey)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		stored.SealedKey = sealed
	} else {
		stored.APIKey = cfg.APIKey
	}

	blob, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := s.store.SaveAPIConfig(blob); err != nil {
		return fmt.Errorf("save api config: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	logger.Info.Printf("api config saved: endpoint=%s key=%s",
		logger.SanitizeForLog(cfg.Endpoint), logger.RedactCredential(cfg.APIKey))
	return nil
}

func (s *SettingsService) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

func (s *SettingsService) SetTheme(name string) error {
	if err := s.store.SaveTheme(name); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	s.mu.Lock()
	s.theme = name
	s.mu.Unlock()
	return nil
}

func (s *SettingsService) seal(plain string) (string, error) {
	aead, err := chacha20poly1305.New(s.sealKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *SettingsService) unseal(encoded string) (string, error) {
	if s.sealKey == nil {
		return "", errors.New("no credential secret configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(s.sealKey)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
