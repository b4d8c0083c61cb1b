package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/patchlab-ai/patchlab-go/internal/platform/env"
)

// config is the file-based CLI configuration. Every field has a usable
// default so the file is optional; PATCHLAB_* environment variables
// override the file.
type config struct {
	ListenAddr string `yaml:"listen_addr"`
	Backend    string `yaml:"backend"` // memory or postgres
	Bucket     string `yaml:"bucket"`
	ServerURL  string `yaml:"server_url"`
}

func loadConfig(path string) (config, error) {
	cfg := config{
		ListenAddr: ":8080",
		Backend:    "memory",
		Bucket:     "patchlab",
		ServerURL:  "http://localhost:8080",
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ListenAddr = env.String("PATCHLAB_LISTEN_ADDR", cfg.ListenAddr)
	cfg.Backend = env.String("PATCHLAB_BACKEND", cfg.Backend)
	cfg.Bucket = env.String("PATCHLAB_BUCKET", cfg.Bucket)
	cfg.ServerURL = env.String("PATCHLAB_SERVER_URL", cfg.ServerURL)

	if cfg.Backend != "memory" && cfg.Backend != "postgres" {
		return config{}, fmt.Errorf("backend must be memory or postgres, got %q", cfg.Backend)
	}
	return cfg, nil
}
