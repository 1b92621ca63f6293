package config

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Tier is a deployment-size hint used to pick built-in resource defaults
// (worker counts, sandbox limits) without requiring an operator to tune
// every knob by hand. Auto-detected from CPU count and total memory when
// left blank, per spec's configuration precedence.
type Tier string

const (
	TierPi      Tier = "pi"      // low-power single-board hardware.
	TierDesktop Tier = "desktop" // a developer's workstation.
	TierVPS     Tier = "vps"     // a rented cloud instance sized for production load.
)

// DetectTier inspects the host and returns its best guess at a Tier. Memory
// detection only works on Linux (/proc/meminfo); everywhere else it falls
// back to TierDesktop.
func DetectTier() Tier {
	cpus := runtime.NumCPU()
	memMB := totalMemoryMB()

	switch {
	case cpus <= 4 && memMB > 0 && memMB <= 2048:
		return TierPi
	case cpus >= 8 || memMB >= 16384:
		return TierVPS
	default:
		return TierDesktop
	}
}

// totalMemoryMB returns total system memory in MiB, or 0 if it can't be
// determined (non-Linux, or /proc/meminfo unreadable).
func totalMemoryMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}
