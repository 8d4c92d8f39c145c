// Package kernel decodes the fixed-layout syscall records emitted by the
// kernel probe's ring buffer into bus-ready event records (spec.md §4.2).
// The probe's BPF bytecode itself is out of scope; this package only
// implements the reader side of the contract.
package kernel

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"sentryd/pkg/events"
	"sentryd/pkg/sentryderr"
)

// RecordSize is the fixed wire size of a kernel syscall record, per the
// layout table in spec.md §4.2.
const RecordSize = 64

// rawRecord mirrors the kernel's packed, little-endian struct layout byte
// for byte. Field order and widths are part of the external contract and
// must not change without a corresponding kernel-side change.
type rawRecord struct {
	PID       uint32
	TID       uint32
	SyscallNr uint32
	_         uint32 // pad
	TsEnterNs uint64
	TsExitNs  uint64
	LatencyNs uint64
	Ret       int64
	Comm      [16]byte
}

// DecodeRecord parses a RecordSize-byte kernel ring-buffer record into an
// Event Record with event_type SYSCALL. raw must be at least RecordSize
// bytes; DecodeRecord reads the first RecordSize bytes and ignores the
// remainder, if any.
func DecodeRecord(raw []byte, source string) (events.Record, error) {
	if len(raw) < RecordSize {
		return events.Record{}, fmt.Errorf("%w: got %d bytes, want >= %d", sentryderr.ErrRecordDecode, len(raw), RecordSize)
	}

	var r rawRecord
	r.PID = binary.LittleEndian.Uint32(raw[0:4])
	r.TID = binary.LittleEndian.Uint32(raw[4:8])
	r.SyscallNr = binary.LittleEndian.Uint32(raw[8:12])
	// raw[12:16] is padding.
	r.TsEnterNs = binary.LittleEndian.Uint64(raw[16:24])
	r.TsExitNs = binary.LittleEndian.Uint64(raw[24:32])
	r.LatencyNs = binary.LittleEndian.Uint64(raw[32:40])
	r.Ret = int64(binary.LittleEndian.Uint64(raw[40:48]))
	copy(r.Comm[:], raw[48:64])

	comm := sanitizeComm(r.Comm[:])
	name := SyscallName(r.SyscallNr)
	latencyUs := float64(r.LatencyNs) / 1000.0

	payload := map[string]events.Value{
		"syscall_nr":   events.Int(int64(r.SyscallNr)),
		"syscall_name": events.String(name),
		"latency_ns":   events.Int(int64(r.LatencyNs)),
		"latency_us":   events.Float(latencyUs),
		"ret":          events.Int(r.Ret),
		"ts_enter_ns":  events.Int(int64(r.TsEnterNs)),
		"ts_exit_ns":   events.Int(int64(r.TsExitNs)),
	}

	rec := events.New(events.TypeSyscall, source, payload)
	rec.Timestamp = time.Unix(0, int64(r.TsExitNs))
	if r.PID != 0 {
		rec = rec.WithPID(int32(r.PID), comm)
	}
	return rec, nil
}

// sanitizeComm trims the NUL padding from a kernel comm field and replaces
// any invalid UTF-8 (truncated multi-byte sequences at the 16-byte
// boundary) rather than surfacing it to consumers.
func sanitizeComm(b []byte) string {
	s := strings.TrimRight(string(b), "\x00")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "?")
	}
	return s
}
