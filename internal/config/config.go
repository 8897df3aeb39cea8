// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads axon's layered configuration: CLI flags override
// AXON_-prefixed environment variables, which override config file values,
// which override the built-in defaults set here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ServiceName is the keyring service name credentials.KeyringProvider
	// looks entries up under.
	ServiceName = "axon"
	// DefaultConfigFileName is the config file stem viper searches for,
	// without extension.
	DefaultConfigFileName = "axon"
)

// Config is axon's full runtime configuration.
type Config struct {
	DataDir string `mapstructure:"-"`

	Server       ServerConfig       `mapstructure:"server"`
	Credentials  CredentialsConfig  `mapstructure:"credentials"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Persistence  PersistenceConfig  `mapstructure:"persistence"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig configures the client session gateway's HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CredentialsConfig selects and configures the credential provider chain.
type CredentialsConfig struct {
	// Backends lists, in order, which backends to try: "env", "keyring",
	// "file". Absent entries are skipped.
	Backends []string `mapstructure:"backends"`
	// FilePath is the encrypted credentials file path for the "file" backend.
	FilePath string `mapstructure:"file_path"`
	// EncryptionSecretEnv names the environment variable holding the
	// AES-GCM key used to decrypt FilePath.
	EncryptionSecretEnv string `mapstructure:"encryption_secret_env"`
}

// RateLimitConfig sets per-provider token-bucket capacities and refill
// rates; entries not present fall back to Default.
type RateLimitConfig struct {
	Default  BucketConfig            `mapstructure:"default"`
	Provider map[string]BucketConfig `mapstructure:"provider"`
}

type BucketConfig struct {
	Capacity        float64 `mapstructure:"capacity"`
	RefillPerSecond float64 `mapstructure:"refill_per_second"`
}

// BreakerConfig sets the circuit breaker thresholds shared by every scope.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ReopenSeconds    int `mapstructure:"reopen_seconds"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Capacity   int  `mapstructure:"capacity"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
}

// PersistenceConfig configures snapshot location and autosave cadence for
// the memory tiers.
type PersistenceConfig struct {
	Dir              string `mapstructure:"dir"`
	AutosaveSchedule string `mapstructure:"autosave_schedule"`
}

// OrchestratorConfig sets the orchestration defaults a chat envelope may
// override per turn.
type OrchestratorConfig struct {
	ConsensusThreshold   float64 `mapstructure:"consensus_threshold"`
	CompetitiveTimeoutMs int     `mapstructure:"competitive_timeout_ms"`
	MaxConsensusRounds   int     `mapstructure:"max_consensus_rounds"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// TracingConfig configures the OTLP/HTTP trace exporter. An empty
// Endpoint leaves tracing disabled (the global no-op TracerProvider).
type TracingConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	ServiceName   string  `mapstructure:"service_name"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
	Insecure      bool    `mapstructure:"insecure"`
}

// Load reads cfgFile (if non-empty) or searches the standard locations,
// applies AXON_-prefixed environment overrides, and unmarshals into Config.
// Finding no config file in the standard locations is not an error;
// defaults and env vars still apply. An explicit cfgFile that cannot be
// read is an error.
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dataDir, err := DataDir()
		if err != nil {
			return nil, err
		}
		viper.AddConfigPath(dataDir)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/axon/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("AXON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir

	return &cfg, nil
}

// DataDir returns AXON_DATA_DIR if set, otherwise ~/.axon.
func DataDir() (string, error) {
	if dir := os.Getenv("AXON_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".axon"), nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8420)

	viper.SetDefault("credentials.backends", []string{"env", "keyring"})

	viper.SetDefault("rate_limit.default.capacity", 20.0)
	viper.SetDefault("rate_limit.default.refill_per_second", 5.0)

	viper.SetDefault("breaker.failure_threshold", 5)
	viper.SetDefault("breaker.reopen_seconds", 30)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.capacity", 1000)
	viper.SetDefault("cache.ttl_seconds", 600)

	viper.SetDefault("persistence.autosave_schedule", "@every 5m")

	viper.SetDefault("orchestrator.consensus_threshold", 0.7)
	viper.SetDefault("orchestrator.competitive_timeout_ms", 30000)
	viper.SetDefault("orchestrator.max_consensus_rounds", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("tracing.endpoint", "")
	viper.SetDefault("tracing.service_name", "axon")
	viper.SetDefault("tracing.sampling_ratio", 1.0)
	viper.SetDefault("tracing.insecure", false)
}
