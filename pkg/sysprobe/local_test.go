package sysprobe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPercent(t *testing.T) {
	pct, err := memoryPercent()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}

func TestDiskPercent(t *testing.T) {
	pct, err := diskPercent("/")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}

func TestLoadPerCPU(t *testing.T) {
	load, err := loadPerCPU()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, load, 0.0)
}

func TestMetricsSnapshot(t *testing.T) {
	s := NewLocalSource()
	m, err := s.MetricsSnapshot(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.MemoryPercent, 0.0)
	assert.GreaterOrEqual(t, m.DiskPercent, 0.0)
}
