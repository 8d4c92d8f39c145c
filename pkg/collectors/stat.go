// Package collectors implements the user-space resource pollers named as
// external collaborators in spec.md §2 ("periodically sample resource state
// and publish metric Event Records"). Each poller reads directly from
// /proc — no pack library specifically targets /proc sampling, matching the
// zero-dependency-by-design precedent in the wider retrieved example set for
// this exact concern.
package collectors

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// cpuTimes holds one line of /proc/stat's aggregate or per-core jiffie
// counters, in the kernel's fixed field order.
type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (c cpuTimes) total() uint64 {
	return c.user + c.nice + c.system + c.idle + c.iowait + c.irq + c.softirq + c.steal
}

func (c cpuTimes) busy() uint64 {
	return c.total() - c.idle - c.iowait
}

// readCPUStat parses /proc/stat, returning the aggregate "cpu" line and a
// slice of per-core "cpu0", "cpu1", ... lines in index order.
func readCPUStat(path string) (cpuTimes, []cpuTimes, error) {
	f, err := os.Open(path)
	if err != nil {
		return cpuTimes{}, nil, fmt.Errorf("collectors: opening %s: %w", path, err)
	}
	defer f.Close()

	var agg cpuTimes
	var cores []cpuTimes

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		label := fields[0]
		times, err := parseCPUFields(fields[1:])
		if err != nil {
			continue
		}
		if label == "cpu" {
			agg = times
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(label, "cpu%d", &idx); err != nil {
			continue
		}
		for len(cores) <= idx {
			cores = append(cores, cpuTimes{})
		}
		cores[idx] = times
	}
	if err := scanner.Err(); err != nil {
		return cpuTimes{}, nil, fmt.Errorf("collectors: scanning %s: %w", path, err)
	}
	return agg, cores, nil
}

func parseCPUFields(fields []string) (cpuTimes, error) {
	vals := make([]uint64, 8)
	for i := 0; i < len(vals) && i < len(fields); i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return cpuTimes{}, err
		}
		vals[i] = v
	}
	return cpuTimes{
		user: vals[0], nice: vals[1], system: vals[2], idle: vals[3],
		iowait: vals[4], irq: vals[5], softirq: vals[6], steal: vals[7],
	}, nil
}

// utilizationPercent returns the busy fraction between two samples of the
// same CPU line, clamped to [0, 100] to avoid rare first-tick spikes when
// the counters haven't moved yet.
func utilizationPercent(prev, cur cpuTimes) float64 {
	totalDelta := cur.total() - prev.total()
	if cur.total() < prev.total() || totalDelta == 0 {
		return 0
	}
	busyDelta := cur.busy() - prev.busy()
	pct := float64(busyDelta) / float64(totalDelta) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
