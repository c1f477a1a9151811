// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package config loads and validates the engram configuration from
// defaults, an optional YAML file, and ENGRAM_* environment overrides.
package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
)

// Config is the top-level engram configuration.
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// StorageConfig selects the vector backend and its connection settings.
type StorageConfig struct {
	Backend          string       `mapstructure:"backend"`
	DataDir          string       `mapstructure:"data_dir"`
	VectorDimensions int          `mapstructure:"vector_dimensions"`
	Qdrant           QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig connects the indexed backend to a Qdrant deployment.
type QdrantConfig struct {
	URL              string `mapstructure:"url"`
	APIKey           string `mapstructure:"api_key"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
	HNSWM            int    `mapstructure:"hnsw_m"`
	HNSWEfConstruct  int    `mapstructure:"hnsw_ef_construct"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// MaintenanceConfig controls the background decay sweep.
type MaintenanceConfig struct {
	DecayEnabled  bool    `mapstructure:"decay_enabled"`
	DecaySchedule string  `mapstructure:"decay_schedule"`
	DecayRate     float64 `mapstructure:"decay_rate"`
}

// defaultDataDir is where SQLite databases live when unconfigured.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "engram")
}

// Load reads configuration from the given path (or defaults only when
// path is empty) with ENGRAM_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("storage.vector_dimensions", 1536)
	v.SetDefault("storage.qdrant.url", "http://localhost:6333")
	v.SetDefault("storage.qdrant.collection_prefix", "engram")
	v.SetDefault("storage.qdrant.hnsw_m", 16)
	v.SetDefault("storage.qdrant.hnsw_ef_construct", 100)
	v.SetDefault("storage.qdrant.timeout_seconds", 15)
	v.SetDefault("maintenance.decay_enabled", false)
	v.SetDefault("maintenance.decay_schedule", "@daily")
	v.SetDefault("maintenance.decay_rate", 0.01)

	// Environment
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, engramerr.Errorf(engramerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate collects every logical error in the configuration rather than
// stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateMaintenance()...)
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "qdrant": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, qdrant], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
			"config: storage.data_dir must not be empty"))
	}

	if c.Storage.VectorDimensions <= 0 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
			"config: storage.vector_dimensions must be greater than 0, got %d",
			c.Storage.VectorDimensions,
		))
	}

	if c.Storage.Backend == "qdrant" {
		if c.Storage.Qdrant.URL == "" {
			errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
				"config: storage.qdrant.url must not be empty when the qdrant backend is selected"))
		} else if u, err := url.Parse(c.Storage.Qdrant.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
				"config: storage.qdrant.url must be an absolute URL, got %q",
				c.Storage.Qdrant.URL,
			))
		}

		if c.Storage.Qdrant.HNSWM <= 0 {
			errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
				"config: storage.qdrant.hnsw_m must be greater than 0, got %d",
				c.Storage.Qdrant.HNSWM,
			))
		}
		if c.Storage.Qdrant.HNSWEfConstruct <= 0 {
			errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
				"config: storage.qdrant.hnsw_ef_construct must be greater than 0, got %d",
				c.Storage.Qdrant.HNSWEfConstruct,
			))
		}
	}

	return errs
}

func (c *Config) validateMaintenance() []error {
	var errs []error

	if c.Maintenance.DecayRate <= 0 || c.Maintenance.DecayRate >= 1 {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
			"config: maintenance.decay_rate must be in (0, 1), got %g",
			c.Maintenance.DecayRate,
		))
	}

	if c.Maintenance.DecayEnabled && c.Maintenance.DecaySchedule == "" {
		errs = append(errs, engramerr.Errorf(engramerr.CodeConfigValidateInvalidValue,
			"config: maintenance.decay_schedule must not be empty when decay is enabled"))
	}

	return errs
}

// StoreConfig converts the loaded configuration into the storage layer's
// own config type.
func (c *Config) StoreConfig() *store.StorageConfig {
	return &store.StorageConfig{
		Backend:          c.Storage.Backend,
		DataDir:          c.Storage.DataDir,
		VectorDimensions: c.Storage.VectorDimensions,
		Qdrant: store.QdrantConfig{
			URL:              c.Storage.Qdrant.URL,
			APIKey:           c.Storage.Qdrant.APIKey,
			CollectionPrefix: c.Storage.Qdrant.CollectionPrefix,
			HNSWM:            c.Storage.Qdrant.HNSWM,
			HNSWEfConstruct:  c.Storage.Qdrant.HNSWEfConstruct,
			Timeout:          time.Duration(c.Storage.Qdrant.TimeoutSeconds) * time.Second,
		},
	}
}
