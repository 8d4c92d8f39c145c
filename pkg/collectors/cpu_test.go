package collectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryd/pkg/bus"
	"sentryd/pkg/events"
)

func writeStat(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestReadCPUStatParsesAggregateAndCores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	writeStat(t, path, "cpu  100 0 100 800 0 0 0 0\ncpu0 50 0 50 400 0 0 0 0\ncpu1 50 0 50 400 0 0 0 0\nintr 12345\n")

	agg, cores, err := readCPUStat(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), agg.total())
	require.Len(t, cores, 2)
	assert.Equal(t, uint64(500), cores[0].total())
}

func TestUtilizationPercentComputesBusyFraction(t *testing.T) {
	prev := cpuTimes{user: 100, idle: 900}
	cur := cpuTimes{user: 200, idle: 1000}
	assert.InDelta(t, 50.0, utilizationPercent(prev, cur), 0.001)
}

func TestUtilizationPercentZeroOnNoMovement(t *testing.T) {
	prev := cpuTimes{user: 100, idle: 900}
	assert.Equal(t, 0.0, utilizationPercent(prev, prev))
}

func TestCPUPollerPublishesUtilizationAfterTwoSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	writeStat(t, path, "cpu  100 0 100 800 0 0 0 0\n")

	b := bus.New(10)
	h, err := b.Subscribe("test", []events.Type{events.TypeCPUMetric}, 10)
	require.NoError(t, err)

	p := NewCPUPoller(b, 10*time.Millisecond, path)
	go p.Run(context.Background())
	t.Cleanup(p.Stop)

	writeStat(t, path, "cpu  200 0 200 900 0 0 0 0\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := b.Receive(ctx, h)
	require.True(t, ok)

	total, _ := rec.Payload["total"].AsFloat()
	assert.Greater(t, total, 0.0)
}
