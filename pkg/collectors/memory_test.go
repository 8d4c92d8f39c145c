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

func writeMeminfo(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestReadMeminfoUsesMemAvailableWhenPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	writeMeminfo(t, path, "MemTotal:       1000000 kB\nMemFree:         200000 kB\nMemAvailable:    400000 kB\nSwapTotal:       100000 kB\nSwapFree:         90000 kB\n")

	snap, err := readMeminfo(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(1000000), snap.totalKB)
	assert.Equal(t, uint64(400000), snap.availableKB)
	assert.InDelta(t, 60.0, snap.usedPercent(), 0.001)
	assert.InDelta(t, 10.0, snap.swapUsedPercent(), 0.001)
}

func TestReadMeminfoFallsBackToMemFreeWithoutMemAvailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	writeMeminfo(t, path, "MemTotal:       1000000 kB\nMemFree:         200000 kB\n")

	snap, err := readMeminfo(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(200000), snap.availableKB)
}

func TestMemoryPollerPublishesMetric(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	writeMeminfo(t, path, "MemTotal:       1000000 kB\nMemAvailable:    500000 kB\nSwapTotal:            0 kB\nSwapFree:             0 kB\n")

	b := bus.New(10)
	h, err := b.Subscribe("test", []events.Type{events.TypeMemoryMetric}, 10)
	require.NoError(t, err)

	p := NewMemoryPoller(b, 10*time.Millisecond, path)
	go p.Run(context.Background())
	t.Cleanup(p.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, ok := b.Receive(ctx, h)
	require.True(t, ok)

	virtual, _ := rec.Payload["virtual_percent"].AsFloat()
	assert.InDelta(t, 50.0, virtual, 0.001)
}
