package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Camera struct {
	Name           string  `json:"name"`           // Friendly name, used in logs and preview titling
	URL            string  `json:"url"`            // Stream URL, may contain a {port} placeholder
	Port           string  `json:"port"`           // Substituted into the {port} placeholder of URL
	TimeoutSeconds float64 `json:"timeoutSeconds"` // Stream considered dead after this many seconds without a frame
	Preview        bool    `json:"preview"`        // Enable the per-frame preview side effect at startup
}

func (c *Camera) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

type Config struct {
	Cameras  []Camera `json:"cameras"`  // The cameras
	HTTPPort int      `json:"httpPort"` // Port of the HTTP API. Zero means 8080.
	Verbose  bool     `json:"verbose"`  // Enable debug logging
}

func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}
