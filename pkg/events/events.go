// Package events defines the universal event record exchanged across the
// bus, the stream processor, and the anomaly pipeline.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of event records the fabric carries.
type Type string

const (
	TypeSyscall        Type = "SYSCALL"
	TypeCPUMetric      Type = "CPU_METRIC"
	TypeMemoryMetric   Type = "MEMORY_METRIC"
	TypeDiskMetric     Type = "DISK_METRIC"
	TypeNetworkMetric  Type = "NETWORK_METRIC"
	TypeProcessMetric  Type = "PROCESS_METRIC"
	TypeAnomaly        Type = "ANOMALY"
	TypeTrend          Type = "TREND"
	TypeReservedHealth Type = "HEALTH"
)

// Record is the immutable unit of the event fabric. Zero value is not
// meaningful; construct with New.
type Record struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Source    string
	PID       int32 // meaningful only when HasPID is true
	HasPID    bool
	Comm      string
	Payload   map[string]Value
}

// New builds a Record with a fresh ID and the given fields. Timestamp is
// set to time.Now(); callers that need another time assign it afterwards.
func New(typ Type, source string, payload map[string]Value) Record {
	return Record{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// WithPID returns a copy of r with pid/comm attached.
func (r Record) WithPID(pid int32, comm string) Record {
	r.PID = pid
	r.HasPID = true
	r.Comm = comm
	return r
}

// Valid reports whether the record carries the minimal required fields
// for publication (spec.md §4.1 "malformed record" rejection).
func (r Record) Valid() bool {
	return r.ID != "" && r.Type != "" && r.Source != "" && !r.Timestamp.IsZero()
}

// Clone returns a deep-enough copy so that a subscriber's handle does not
// alias the publisher's payload map.
func (r Record) Clone() Record {
	cp := r
	if r.Payload != nil {
		cp.Payload = make(map[string]Value, len(r.Payload))
		for k, v := range r.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}
