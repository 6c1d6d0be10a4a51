package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             int
	DataDir          string
	OutputDir        string
	StorageDriver    string
	CredentialSecret string

	// APIEndpoint and APIKey seed the settings store on first run; a
	// saved configuration always wins over these.
	APIEndpoint string
	APIKey      string

	PollInterval    time.Duration
	PollMaxAttempts int
	Retention       time.Duration
}

func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "7990"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	pollSeconds, err := strconv.Atoi(getEnv("POLL_INTERVAL_SECONDS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS: %w", err)
	}

	pollMaxAttempts, err := strconv.Atoi(getEnv("POLL_MAX_ATTEMPTS", "240"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_MAX_ATTEMPTS: %w", err)
	}

	retentionHours, err := strconv.Atoi(getEnv("RETENTION_HOURS", "24"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_HOURS: %w", err)
	}

	driver := getEnv("STORAGE_DRIVER", "json")
	if driver != "json" && driver != "sqlite" {
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: must be json or sqlite", driver)
	}

	return &Config{
		Port:             port,
		DataDir:          getEnv("DATA_DIR", "./data"),
		OutputDir:        getEnv("OUTPUT_DIR", "./output"),
		StorageDriver:    driver,
		CredentialSecret: os.Getenv("CREDENTIAL_SECRET"),
		APIEndpoint:      os.Getenv("API_ENDPOINT"),
		APIKey:           os.Getenv("API_KEY"),
		PollInterval:     time.Duration(pollSeconds) * time.Second,
		PollMaxAttempts:  pollMaxAttempts,
		Retention:        time.Duration(retentionHours) * time.Hour,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
