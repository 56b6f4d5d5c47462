// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the applyd YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
)

// Config is the full applyd configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	JobStore  JobStoreConfig  `yaml:"job_store"`
	Producer  ProducerConfig  `yaml:"producer"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	// Port is the listen port.
	Port int `yaml:"port"`

	// SubmitRatePerSecond caps change-set submissions. Zero means the
	// default.
	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second"`

	// SubmitBurst is the submission burst allowance.
	SubmitBurst int `yaml:"submit_burst"`

	// ShutdownGrace bounds graceful shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// WorkspaceConfig locates the files the engine may touch.
type WorkspaceConfig struct {
	// Root confines all reads and writes. Required for serve.
	Root string `yaml:"root"`

	// Watch invalidates snapshot caches on filesystem events.
	Watch bool `yaml:"watch"`
}

// JobStoreConfig locates job persistence.
type JobStoreConfig struct {
	// Path is the Badger directory. Empty means in-memory.
	Path string `yaml:"path"`
}

// ProducerConfig selects and tunes the proposal producer.
type ProducerConfig struct {
	// Model is the chat model identifier.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// JobsConfig tunes job execution.
type JobsConfig struct {
	ProduceTimeout time.Duration `yaml:"produce_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxParallel    int           `yaml:"max_parallel"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:                12310,
			SubmitRatePerSecond: 2,
			SubmitBurst:         5,
			ShutdownGrace:       15 * time.Second,
		},
		Producer: ProducerConfig{
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Jobs: JobsConfig{
			ProduceTimeout: 120 * time.Second,
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
			MaxParallel:    4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the per-user config location,
// ~/.aleutian/applyd.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apperr.Wrap(apperr.CodeValidation, fmt.Errorf("resolve home directory: %w", err))
	}
	return filepath.Join(home, ".aleutian", "applyd.yaml"), nil
}

// defaultConfigFile is written on first run so users have something to
// edit. Keep it in sync with Default(); TestLoadOrInitFirstRun guards
// the equivalence.
const defaultConfigFile = `# applyd configuration
server:
  port: 12310
  submit_rate_per_second: 2
  submit_burst: 5
  shutdown_grace: 15s

workspace:
  # Absolute path the engine may read and write. Required for serve.
  root: ""
  watch: false

job_store:
  # Badger directory for job records. Empty keeps them in memory.
  path: ""

producer:
  model: ""
  api_key_env: OPENAI_API_KEY

jobs:
  produce_timeout: 120s
  retry_attempts: 3
  retry_base_delay: 1s
  max_parallel: 4

logging:
  level: info
  dir: ""
  json: false
`

// LoadOrInit loads an explicit path, or falls back to DefaultPath when
// none is given, creating the default file on first run.
func LoadOrInit(path string) (Config, error) {
	if path != "" {
		return Load(path)
	}
	def, err := DefaultPath()
	if err != nil {
		return Default(), err
	}
	if _, err := os.Stat(def); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultFile(def); err != nil {
			return Default(), err
		}
	}
	return Load(def)
}

func writeDefaultFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return apperr.Wrap(apperr.CodeStorage, fmt.Errorf("create config directory: %w", err))
	}
	if err := os.WriteFile(path, []byte(defaultConfigFile), 0o600); err != nil {
		return apperr.Wrap(apperr.CodeStorage, fmt.Errorf("write default config: %w", err))
	}
	return nil
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, apperr.Wrap(apperr.CodeValidation, fmt.Errorf("read config %s: %w", path, err))
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, apperr.Wrap(apperr.CodeValidation, fmt.Errorf("parse config %s: %w", path, err))
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return apperr.Newf(apperr.CodeValidation, "server.port %d out of range", c.Server.Port)
	}
	if c.Jobs.RetryAttempts < 1 {
		return apperr.New(apperr.CodeValidation, "jobs.retry_attempts must be at least 1")
	}
	if c.Jobs.MaxParallel < 1 {
		return apperr.New(apperr.CodeValidation, "jobs.max_parallel must be at least 1")
	}
	return nil
}
