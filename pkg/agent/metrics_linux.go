//go:build linux

package agent

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/droverd/drover/pkg/types"
)

// systemSampler reads host utilization from /proc and statfs. Every probe
// fails soft to zero; a node with partial metrics is still schedulable.
type systemSampler struct {
	mu        sync.Mutex
	lastBytes uint64
	lastAt    time.Time
}

func newSystemSampler() *systemSampler {
	return &systemSampler{}
}

// Sample returns the current utilization snapshot. Network throughput is a
// delta against the previous call, so the first sample reports zero.
func (s *systemSampler) Sample() types.NodeMetrics {
	return types.NodeMetrics{
		CPUUsage:    sampleCPU(),
		MemoryUsage: sampleMemory(),
		DiskUsage:   sampleDisk(),
		NetworkMbps: s.sampleNetwork(),
	}
}

// sampleCPU approximates utilization as the 1-minute load average over the
// logical core count, clamped to [0,1].
func sampleCPU() float64 {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	usage := load / float64(runtime.NumCPU())
	return clamp01(usage)
}

func sampleMemory() float64 {
	raw, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	var total, available float64
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable:":
			available, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if total <= 0 {
		return 0
	}
	return clamp01(1 - available/total)
}

func sampleDisk() float64 {
	var fs unix.Statfs_t
	if err := unix.Statfs("/", &fs); err != nil || fs.Blocks == 0 {
		return 0
	}
	return clamp01(1 - float64(fs.Bavail)/float64(fs.Blocks))
}

// sampleNetwork sums rx+tx bytes across interfaces (loopback excluded) and
// converts the delta since the previous sample to megabits per second.
func (s *systemSampler) sampleNetwork() float64 {
	raw, err := os.ReadFile("/proc/net/dev")
	if err != nil {
		return 0
	}

	var total uint64
	for _, line := range strings.Split(string(raw), "\n") {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		iface := strings.TrimSpace(line[:idx])
		if iface == "lo" {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 9 {
			continue
		}
		rx, _ := strconv.ParseUint(fields[0], 10, 64)
		tx, _ := strconv.ParseUint(fields[8], 10, 64)
		total += rx + tx
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	prevBytes, prevAt := s.lastBytes, s.lastAt
	s.lastBytes, s.lastAt = total, now

	if prevAt.IsZero() || total < prevBytes {
		return 0
	}
	seconds := now.Sub(prevAt).Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(total-prevBytes) * 8 / seconds / 1e6
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
