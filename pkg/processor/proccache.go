package processor

import (
	"bytes"
	"container/list"
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"
)

// DefaultCacheCapacity and DefaultCacheTTL back processor.cache_capacity
// and processor.cache_ttl (spec.md §6).
const (
	DefaultCacheCapacity = 10000
	DefaultCacheTTL      = 300 * time.Second
)

// ProcessInfo is the enrichment result for one pid (spec.md §3 "Process
// Info Cache").
type ProcessInfo struct {
	PID       int32
	Comm      string
	Cmdline   string
	User      string
	FirstSeen time.Time
	LastSeen  time.Time
	Resolved  bool
}

// procReader is the OS lookup this cache depends on. The real
// implementation reads /proc; tests substitute a fake so enrichment logic
// is exercised without a live process table
// (other_examples/0d52d805_ja7ad-consumption__pkg-system-proc-doc.go.go
// documents the same /proc/<pid>/{comm,cmdline,status} read pattern this
// mirrors).
type procReader interface {
	lookup(pid int32) (comm, cmdline, user string, err error)
}

type osProcReader struct{}

func (osProcReader) lookup(pid int32) (string, string, string, error) {
	base := fmt.Sprintf("/proc/%d", pid)

	commBytes, err := os.ReadFile(base + "/comm")
	if err != nil {
		return "", "", "", fmt.Errorf("read comm: %w", err)
	}
	comm := strings.TrimSpace(string(commBytes))

	cmdlineBytes, err := os.ReadFile(base + "/cmdline")
	if err != nil {
		return "", "", "", fmt.Errorf("read cmdline: %w", err)
	}
	cmdline := strings.TrimSpace(strings.Join(strings.Split(string(bytes.Trim(cmdlineBytes, "\x00")), "\x00"), " "))

	uid, err := readUID(base + "/status")
	if err != nil {
		return comm, cmdline, "", nil
	}
	u, err := user.LookupId(uid)
	if err != nil {
		return comm, cmdline, "", nil
	}
	return comm, cmdline, u.Username, nil
}

func readUID(statusPath string) (string, error) {
	data, err := os.ReadFile(statusPath)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				return fields[1], nil
			}
		}
	}
	return "", fmt.Errorf("no Uid field in %s", statusPath)
}

type cacheEntry struct {
	info ProcessInfo
}

// processCache is the LRU-evicted, TTL-refreshed pid → ProcessInfo map
// described in spec.md §3, generalized from the teacher's bounded
// per-task maps (pkg/worker/health_monitor.go keeps a map[string]*T plus
// explicit teardown bookkeeping; here the key is pid and eviction is LRU
// instead of explicit removal).
type processCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	reader   procReader

	ll    *list.List
	items map[int32]*list.Element

	lookupCount uint64
}

func newProcessCache(capacity int, ttl time.Duration, reader procReader) *processCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if reader == nil {
		reader = osProcReader{}
	}
	return &processCache{
		capacity: capacity,
		ttl:      ttl,
		reader:   reader,
		ll:       list.New(),
		items:    make(map[int32]*list.Element),
	}
}

// resolve returns enrichment info for pid as of now, consulting the
// process table only when the entry is absent or older than ttl
// (spec.md §4.3 enrichment step 1, and the S5 bound on lookup count).
func (c *processCache) resolve(pid int32, now time.Time) ProcessInfo {
	c.mu.Lock()
	if el, ok := c.items[pid]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		if now.Sub(entry.info.LastSeen) < c.ttl {
			entry.info.LastSeen = now
			info := entry.info
			c.mu.Unlock()
			return info
		}
	}
	c.mu.Unlock()

	comm, cmdline, user, err := c.lookup(pid)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, exists := c.items[pid]
	var entry *cacheEntry
	if exists {
		c.ll.MoveToFront(el)
		entry = el.Value.(*cacheEntry)
	} else {
		entry = &cacheEntry{info: ProcessInfo{PID: pid, FirstSeen: now}}
		el = c.ll.PushFront(entry)
		c.items[pid] = el
		c.evictIfOverCapacity()
	}

	entry.info.LastSeen = now
	if err == nil {
		entry.info.Comm = comm
		entry.info.Cmdline = cmdline
		entry.info.User = user
		entry.info.Resolved = true
	} else {
		entry.info.Resolved = false
	}
	return entry.info
}

func (c *processCache) lookup(pid int32) (comm, cmdline, user string, err error) {
	c.lookupCount++
	return c.reader.lookup(pid)
}

func (c *processCache) evictIfOverCapacity() {
	for len(c.items) > c.capacity {
		back := c.ll.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*cacheEntry)
		delete(c.items, entry.info.PID)
		c.ll.Remove(back)
	}
}

func (c *processCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *processCache) lookupsPerformed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupCount
}
