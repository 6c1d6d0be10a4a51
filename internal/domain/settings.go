package domain

// APIConfig is the process-wide remote endpoint configuration, loaded at
// startup and mutated only by an explicit settings save.
type APIConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"apiKey"`
}

func (c APIConfig) Configured() bool {
	return c.Endpoint != "" && c.APIKey != ""
}
