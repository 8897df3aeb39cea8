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
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper isolates each test from viper's process-wide singleton state,
// since Load (like the teacher's own config loader) writes into the global
// instance rather than a scoped one.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadAppliesDefaultsWithNoConfigFileOrEnv(t *testing.T) {
	resetViper(t)
	t.Setenv("AXON_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, []string{"env", "keyring"}, cfg.Credentials.Backends)
	assert.Equal(t, 20.0, cfg.RateLimit.Default.Capacity)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "@every 5m", cfg.Persistence.AutosaveSchedule)
	assert.Equal(t, 0.7, cfg.Orchestrator.ConsensusThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "", cfg.Tracing.Endpoint, "tracing must default to disabled (no endpoint)")
	assert.Equal(t, "axon", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRatio)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	resetViper(t)
	dataDir := t.TempDir()
	t.Setenv("AXON_DATA_DIR", dataDir)
	t.Setenv("AXON_SERVER_PORT", "9999")
	t.Setenv("AXON_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, dataDir, cfg.DataDir)
}

func TestLoadConfigFileOverridesDefaultsAndEnvOverridesFile(t *testing.T) {
	resetViper(t)
	t.Setenv("AXON_DATA_DIR", t.TempDir())

	cfgPath := filepath.Join(t.TempDir(), "axon.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 7000\n  host: 127.0.0.1\n"), 0o644))

	t.Setenv("AXON_SERVER_HOST", "10.0.0.1")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port, "value only set in the file must come through")
	assert.Equal(t, "10.0.0.1", cfg.Server.Host, "env must win over the config file")
}

func TestLoadMissingExplicitConfigFileErrors(t *testing.T) {
	resetViper(t)
	t.Setenv("AXON_DATA_DIR", t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestDataDirPrefersEnvOverride(t *testing.T) {
	t.Setenv("AXON_DATA_DIR", "/tmp/custom-axon-dir")
	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-axon-dir", dir)
}

func TestDataDirFallsBackToHomeAxonDir(t *testing.T) {
	t.Setenv("AXON_DATA_DIR", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".axon"), dir)
}
