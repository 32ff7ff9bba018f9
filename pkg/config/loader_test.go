package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_Defaults(t *testing.T) {
	cfg, err := Initialize(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, AutonomySuggest, cfg.AutonomyLevel)
	assert.Equal(t, 30*time.Second, cfg.TriggerInterval)
	assert.Equal(t, 60*time.Second, cfg.ReviewInterval)
	assert.Equal(t, float64(90), cfg.Thresholds.CPUPercent)
	assert.Equal(t, float64(85), cfg.Thresholds.MemoryPercent)
	assert.Equal(t, 2.0, cfg.Thresholds.LoadPerCPU)
	assert.Equal(t, 10, cfg.Thresholds.ErrorLogRate)
	assert.Contains(t, cfg.ProtectedServices, "sshd")
	assert.NotEmpty(t, cfg.Hostname)
}

func TestInitialize_UserOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"trigger_interval": 10,
		"context_size": 4096,
		"autonomy_level": "auto-safe",
		"thresholds": {"cpu_percent": 95},
		"inference": {"model": "llama3.1:8b"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Initialize(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.TriggerInterval)
	assert.Equal(t, 4096, cfg.ContextSize)
	assert.Equal(t, AutonomyAutoSafe, cfg.AutonomyLevel)
	assert.Equal(t, float64(95), cfg.Thresholds.CPUPercent)
	// Unset threshold keys keep their defaults through the merge.
	assert.Equal(t, float64(85), cfg.Thresholds.MemoryPercent)
	assert.Equal(t, "llama3.1:8b", cfg.Inference.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Inference.BackendURL)
}

func TestInitialize_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	_, err := Initialize(path)
	assert.Error(t, err)
}

func TestInitialize_InvalidAutonomy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"autonomy_level": "yolo"}`), 0o600))

	_, err := Initialize(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "autonomy_level")
}

func TestValidate_Intervals(t *testing.T) {
	cfg := defaults()
	cfg.TriggerIntervalSec = 0
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.ContextSize = -1
	assert.Error(t, cfg.Validate())
}
