package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZScoreNeverFiresOnConstantSeries(t *testing.T) {
	cfg := DefaultConfig()
	window := make([]float64, 30)
	for i := range window {
		window[i] = 42
	}

	res, err := ZScoreModel{}.Evaluate("cpu.total", window, 42, cfg)
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Equal(t, float64(0), res.ZScore)
}

func TestZScoreFiresAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ZThreshold = 3
	window := make([]float64, 20)
	for i := range window {
		window[i] = 10
	}

	res, err := ZScoreModel{}.Evaluate("cpu.total", window, 10, cfg)
	require.NoError(t, err)
	assert.False(t, res.Fired)

	res2, err := ZScoreModel{}.Evaluate("cpu.total", append(window, 1000), 1000, cfg)
	require.NoError(t, err)
	assert.True(t, res2.Fired)
	assert.Greater(t, res2.Score, 0.0)
}

func TestOneClassFiresOutsideBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrainWindow = 100
	cfg.RetrainDelta = 5
	window := make([]float64, 40)
	for i := range window {
		window[i] = 50
	}
	m := NewOneClassModel()

	res, err := m.Evaluate("mem.virtual", window, 50, cfg)
	require.NoError(t, err)
	assert.False(t, res.Fired)

	res2, err := m.Evaluate("mem.virtual", window, 5000, cfg)
	require.NoError(t, err)
	assert.True(t, res2.Fired)
}

func TestIsolationModelRetrainsOnlyAfterDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetrainDelta = 1000 // effectively never retrain mid-test
	m := NewIsolationModel()
	window := make([]float64, 30)
	for i := range window {
		window[i] = 20
	}

	_, err := m.Evaluate("disk.sda.read_bytes_delta", window, 20, cfg)
	require.NoError(t, err)

	m.mu.Lock()
	before := m.fitted["disk.sda.read_bytes_delta"].lastFitCount
	m.mu.Unlock()

	_, err = m.Evaluate("disk.sda.read_bytes_delta", append(window, 21, 22), 22, cfg)
	require.NoError(t, err)

	m.mu.Lock()
	after := m.fitted["disk.sda.read_bytes_delta"].lastFitCount
	m.mu.Unlock()

	assert.Equal(t, before, after, "should not have refit before retrain_delta new samples arrived")
}
