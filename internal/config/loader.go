package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/heartmarshall/autograder/internal/domain"
)

// Load reads configuration from a YAML or JSON file and environment variables.
// Priority: ENV > file > defaults (via env-default tags).
// An empty path loads from ENV + defaults only.
// Every returned error wraps domain.ErrConfig.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadHistory reads configuration like Load but validates only what queries
// against the run history need: output_dir and an enabled store.
func LoadHistory(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateHistory(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: file %s: %v", domain.ErrConfig, path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfig, path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%w: read env: %v", domain.ErrConfig, err)
	}
	return &cfg, nil
}
