package kernel

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryd/pkg/events"
)

func buildRaw(pid, tid, syscallNr uint32, tsEnter, tsExit, latencyNs uint64, ret int64, comm string) []byte {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], pid)
	binary.LittleEndian.PutUint32(buf[4:8], tid)
	binary.LittleEndian.PutUint32(buf[8:12], syscallNr)
	binary.LittleEndian.PutUint64(buf[16:24], tsEnter)
	binary.LittleEndian.PutUint64(buf[24:32], tsExit)
	binary.LittleEndian.PutUint64(buf[32:40], latencyNs)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(ret))
	copy(buf[48:64], comm)
	return buf
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	raw := buildRaw(1234, 1234, 59, 1_000_000_000, 1_000_050_000, 50_000, 0, "bash")
	rec, err := DecodeRecord(raw, "test::ring")
	require.NoError(t, err)

	assert.Equal(t, events.TypeSyscall, rec.Type)
	assert.EqualValues(t, 1234, rec.PID)
	assert.True(t, rec.HasPID)
	assert.Equal(t, "bash", rec.Comm)

	name, ok := rec.Payload["syscall_name"].AsString()
	require.True(t, ok)
	assert.Equal(t, "execve", name)

	lat, ok := rec.Payload["latency_ns"].AsInt()
	require.True(t, ok)
	assert.EqualValues(t, 50_000, lat)
}

func TestDecodeRecordRejectsShortBuffer(t *testing.T) {
	_, err := DecodeRecord(make([]byte, 10), "test::ring")
	assert.Error(t, err)
}

func TestDecodeRecordUnknownSyscallFallsBack(t *testing.T) {
	raw := buildRaw(1, 1, 9999, 1, 2, 1, 0, "x")
	rec, err := DecodeRecord(raw, "test::ring")
	require.NoError(t, err)
	name, _ := rec.Payload["syscall_name"].AsString()
	assert.Equal(t, "syscall_9999", name)
}

func TestDecodeRecordSanitizesCommPadding(t *testing.T) {
	raw := buildRaw(1, 1, 0, 1, 2, 1, 0, "sh\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	rec, err := DecodeRecord(raw, "test::ring")
	require.NoError(t, err)
	assert.Equal(t, "sh", rec.Comm)
}

func TestDecodeRecordZeroPIDOmitsPID(t *testing.T) {
	raw := buildRaw(0, 0, 0, 1, 2, 1, 0, "kthread")
	rec, err := DecodeRecord(raw, "test::ring")
	require.NoError(t, err)
	assert.False(t, rec.HasPID)
}
