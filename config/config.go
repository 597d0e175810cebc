// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		IndexPath      string        `yaml:"index_path"`
	} `yaml:"http"`
	Model struct {
		Path string `yaml:"path"`
	} `yaml:"model"`
	Database struct {
		// Path of the SQLite prediction log; empty disables it.
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Training struct {
		NumTrees  int     `yaml:"num_trees"`
		MaxDepth  int     `yaml:"max_depth"`
		TestRatio float64 `yaml:"test_ratio"`
		Seed      int64   `yaml:"seed"`
		Target    string  `yaml:"target"`
	} `yaml:"training"`
}

func Default() *Config {
	var c Config
	c.Http.Port = 8000
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Http.MaxBodyBytes = 1 << 20
	c.Http.IndexPath = "index.html"
	c.Model.Path = "models/fertilizer_rf.json"
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	c.Training.NumTrees = 100
	c.Training.MaxDepth = 12
	c.Training.TestRatio = 0.2
	c.Training.Seed = 42
	c.Training.Target = "fertilizer_name"
	return &c
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		config.Http.Port = p
	}
	if path := os.Getenv("MODEL_PATH"); path != "" {
		config.Model.Path = path
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Training.TestRatio < 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio %v must be in [0,1)", c.Training.TestRatio)
	}
	return nil
}
