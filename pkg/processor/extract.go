package processor

import (
	"fmt"

	"sentryd/pkg/events"
)

// extracted is one (metric_key, value, metadata) tuple pulled from a
// record's payload (spec.md §4.3 step 2).
type extracted struct {
	key      string
	value    float64
	metadata map[string]events.Value
}

// extractMetrics implements the fixed event_type → metric key mapping
// table in spec.md §4.3. Unknown event types extract nothing.
func extractMetrics(rec events.Record) []extracted {
	switch rec.Type {
	case events.TypeCPUMetric:
		return extractCPU(rec)
	case events.TypeMemoryMetric:
		return extractMemory(rec)
	case events.TypeDiskMetric:
		return extractDisk(rec)
	case events.TypeNetworkMetric:
		return extractNetwork(rec)
	case events.TypeProcessMetric:
		return extractProcess(rec)
	default:
		return nil
	}
}

func extractCPU(rec events.Record) []extracted {
	var out []extracted
	if v, ok := floatField(rec, "total"); ok {
		out = append(out, extracted{key: "cpu.total", value: v})
	}
	if cores, ok := rec.Payload["cores"].AsArray(); ok {
		for i, c := range cores {
			if v, ok := c.AsFloat(); ok {
				out = append(out, extracted{key: fmt.Sprintf("cpu.%d", i), value: v})
			}
		}
	}
	if v, ok := floatField(rec, "freq_mhz"); ok {
		out = append(out, extracted{key: "cpu.freq_mhz", value: v})
	}
	return out
}

func extractMemory(rec events.Record) []extracted {
	var out []extracted
	fields := []struct{ payloadKey, metricKey string }{
		{"virtual", "memory.virtual"},
		{"virtual_percent", "memory.virtual_percent"},
		{"swap", "memory.swap"},
		{"swap_percent", "memory.swap_percent"},
	}
	for _, f := range fields {
		if v, ok := floatField(rec, f.payloadKey); ok {
			out = append(out, extracted{key: f.metricKey, value: v})
		}
	}
	return out
}

func extractDisk(rec events.Record) []extracted {
	devices, ok := rec.Payload["devices"].AsMap()
	if !ok {
		return nil
	}
	var out []extracted
	for device, v := range devices {
		stats, ok := v.AsMap()
		if !ok {
			continue
		}
		for _, f := range []string{"read_bytes_delta", "write_bytes_delta", "read_ops_delta", "write_ops_delta"} {
			if val, ok := stats[f]; ok {
				if fv, ok := val.AsFloat(); ok {
					out = append(out, extracted{key: fmt.Sprintf("disk.%s.%s", device, f), value: fv})
				}
			}
		}
	}
	return out
}

func extractNetwork(rec events.Record) []extracted {
	ifaces, ok := rec.Payload["interfaces"].AsMap()
	if !ok {
		return nil
	}
	var out []extracted
	for iface, v := range ifaces {
		stats, ok := v.AsMap()
		if !ok {
			continue
		}
		for _, f := range []string{"rx_bytes_delta", "tx_bytes_delta", "rx_errors", "tx_errors", "rx_dropped", "tx_dropped"} {
			if val, ok := stats[f]; ok {
				if fv, ok := val.AsFloat(); ok {
					out = append(out, extracted{key: fmt.Sprintf("net.%s.%s", iface, f), value: fv})
				}
			}
		}
	}
	return out
}

func extractProcess(rec events.Record) []extracted {
	procs, ok := rec.Payload["processes"].AsMap()
	if !ok {
		return nil
	}
	var out []extracted
	for pid, v := range procs {
		stats, ok := v.AsMap()
		if !ok {
			continue
		}
		if cpu, ok := stats["cpu_percent"]; ok {
			if fv, ok := cpu.AsFloat(); ok {
				out = append(out, extracted{key: fmt.Sprintf("proc.%s.cpu_percent", pid), value: fv})
			}
		}
		if rss, ok := stats["rss"]; ok {
			if fv, ok := rss.AsFloat(); ok {
				out = append(out, extracted{key: fmt.Sprintf("proc.%s.rss", pid), value: fv})
			}
		}
	}
	return out
}

func floatField(rec events.Record, key string) (float64, bool) {
	v, ok := rec.Payload[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}
