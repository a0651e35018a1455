//
// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package config loads engine settings from a YAML file, DPENGINE_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/differential-privacy/dpengine/aggregate"
	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/checks"
	"github.com/google/differential-privacy/dpengine/engine"
	"github.com/google/differential-privacy/dpengine/noise"
	"github.com/google/differential-privacy/dpengine/records"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. DPENGINE_MAX_BUDGET or
// DPENGINE_REDIS_ADDR.
const EnvPrefix = "DPENGINE"

// Backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

// Config is the full configuration surface.
type Config struct {
	Sensitivity       float64  `mapstructure:"sensitivity"`
	MaxBudget         *float64 `mapstructure:"max_budget"`
	NoiseDistribution string   `mapstructure:"noise_distribution"`
	Delta             float64  `mapstructure:"delta"`
	Bounds            Bounds   `mapstructure:"bounds"`
	DefaultEpsilon    float64  `mapstructure:"default_epsilon"`
	Dataset           string   `mapstructure:"dataset"`

	HTTP     HTTPConfig             `mapstructure:"http"`
	Ledger   LedgerConfig           `mapstructure:"ledger"`
	Redis    budget.RedisConfig     `mapstructure:"redis"`
	Source   SourceConfig           `mapstructure:"source"`
	Postgres records.PostgresConfig `mapstructure:"postgres"`
}

// Bounds optionally switch queries to the bounded sensitivity policy. Both
// or neither must be set.
type Bounds struct {
	Lower *float64 `mapstructure:"lower"`
	Upper *float64 `mapstructure:"upper"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LedgerConfig selects the budget ledger.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
}

// SourceConfig selects where records are read from.
type SourceConfig struct {
	Backend   string `mapstructure:"backend"`
	CSVPath   string `mapstructure:"csv_path"`
	CSVColumn string `mapstructure:"csv_column"`
}

var defaults = map[string]interface{}{
	"sensitivity":           aggregate.DefaultSensitivity,
	"noise_distribution":    "laplace",
	"delta":                 0.0,
	"default_epsilon":       1.0,
	"dataset":               records.DefaultDataset,
	"http.addr":             "127.0.0.1:8000",
	"http.cors_origin":      "http://localhost:3000",
	"http.shutdown_timeout": 10 * time.Second,
	"ledger.backend":        BackendMemory,
	"redis.addr":            "localhost:6379",
	"redis.password":        "",
	"redis.db":              0,
	"redis.key_prefix":      "dpengine",
	"source.backend":        BackendMemory,
	"source.csv_path":       "",
	"source.csv_column":     records.DefaultColumn,
	"postgres.dsn":          "",
	"postgres.table":        "patients",
	"postgres.column":       records.DefaultColumn,
}

// Keys without a default, which must still be read from the environment.
var unsetKeys = []string{"max_budget", "bounds.lower", "bounds.upper"}

// NewViper returns a viper instance with defaults and environment bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range unsetKeys {
		// BindEnv only fails without a key.
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at path, if any, into v and returns the validated
// configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("couldn't read config file %q: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every option and their combinations.
func (c *Config) Validate() error {
	if err := checks.CheckSensitivity(c.Sensitivity, "sensitivity"); err != nil {
		return err
	}
	if err := checks.CheckMaxBudget(c.MaxBudget, "max_budget"); err != nil {
		return err
	}
	if err := checks.CheckEpsilonStrict(c.DefaultEpsilon, "default_epsilon"); err != nil {
		return err
	}
	kind, err := noise.ParseKind(c.NoiseDistribution)
	if err != nil {
		return err
	}
	if kind == noise.GaussianNoise {
		if err := checks.CheckDeltaStrict(c.Delta, "delta"); err != nil {
			return fmt.Errorf("noise_distribution gaussian: %w", err)
		}
	} else if err := checks.CheckNoDelta(c.Delta, "delta"); err != nil {
		return fmt.Errorf("noise_distribution laplace: %w", err)
	}
	if _, err := c.AggregateBounds(); err != nil {
		return err
	}
	if c.Dataset == "" {
		return fmt.Errorf("dataset must not be empty")
	}
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("ledger.backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q, must be one of %s, %s", c.Ledger.Backend, BackendMemory, BackendRedis)
	}
	switch c.Source.Backend {
	case BackendMemory:
	case BackendCSV:
		if c.Source.CSVPath == "" {
			return fmt.Errorf("source.backend csv requires source.csv_path")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("source.backend postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown source.backend %q, must be one of %s, %s, %s", c.Source.Backend, BackendMemory, BackendCSV, BackendPostgres)
	}
	return nil
}

// NoiseKind returns the parsed noise_distribution.
func (c *Config) NoiseKind() noise.Kind {
	k, err := noise.ParseKind(c.NoiseDistribution)
	if err != nil {
		return noise.Unrecognised
	}
	return k
}

// AggregateBounds returns the configured bounds, nil if none are set.
func (c *Config) AggregateBounds() (*aggregate.Bounds, error) {
	lower, upper := c.Bounds.Lower, c.Bounds.Upper
	if lower == nil && upper == nil {
		return nil, nil
	}
	if lower == nil || upper == nil {
		return nil, fmt.Errorf("bounds.lower and bounds.upper must be set together")
	}
	b := &aggregate.Bounds{Lower: *lower, Upper: *upper}
	if err := b.Check(); err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}
	return b, nil
}

// EngineOptions converts the configuration into engine options. The caller
// supplies the ledger and observer.
func (c *Config) EngineOptions() *engine.Options {
	// Validate has already rejected invalid bounds.
	bounds, _ := c.AggregateBounds()
	return &engine.Options{
		Sensitivity: c.Sensitivity,
		MaxBudget:   c.MaxBudget,
		Noise:       c.NoiseKind(),
		Delta:       c.Delta,
		Bounds:      bounds,
	}
}

// PostgresConfig returns the postgres settings serving the configured
// dataset.
func (c *Config) PostgresConfig() records.PostgresConfig {
	pc := c.Postgres
	pc.Dataset = c.Dataset
	return pc
}
