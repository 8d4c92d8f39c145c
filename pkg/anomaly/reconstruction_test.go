package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructionDeclinesWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReconstruction = false
	window := make([]float64, 20)
	for i := range window {
		window[i] = 10
	}

	res, err := ReconstructionModel{}.Evaluate("cpu.total", window, 10, cfg)
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.False(t, res.Fired)
}

func TestReconstructionDeclinesOnShortWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReconstruction = true

	res, err := ReconstructionModel{}.Evaluate("cpu.total", []float64{10}, 10, cfg)
	require.NoError(t, err)
	assert.False(t, res.Ran)
}

func TestReconstructionNeverFiresOnConstantSeries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReconstruction = true
	window := make([]float64, 20)
	for i := range window {
		window[i] = 10
	}

	res, err := ReconstructionModel{}.Evaluate("cpu.total", window, 10, cfg)
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.False(t, res.Fired)
}

func TestReconstructionFiresOnDeviationFromWindowAverage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReconstruction = true
	window := make([]float64, 20)
	for i := range window {
		if i%2 == 0 {
			window[i] = 10
		} else {
			window[i] = 11
		}
	}

	res, err := ReconstructionModel{}.Evaluate("cpu.total", window, 1000, cfg)
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.True(t, res.Fired)
	assert.Greater(t, res.Score, 0.0)
}
