package helpers

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

const (
	minMemoryLimitMB = 512
	memoryShare      = 0.75
)

var (
	cgroupMemoryMax = "/sys/fs/cgroup/memory.max"
	procMeminfo     = "/proc/meminfo"
)

// MemoryLimitMB picks the soft memory limit for the runtime. A configured
// value wins; otherwise 75% of the container or host memory is used, never
// less than 512MB unless the machine has less. Zero means unknown.
func MemoryLimitMB(configured int) int {
	if configured > 0 {
		return configured
	}
	return recommendedLimitMB(totalMemoryMB())
}

// -----------------------------------------------------------------------------

func recommendedLimitMB(totalMB int) int {
	if totalMB <= 0 {
		return 0
	}

	limit := int(float64(totalMB) * memoryShare)
	if limit < minMemoryLimitMB {
		return min(totalMB, minMemoryLimitMB)
	}
	return limit
}

// -----------------------------------------------------------------------------

// totalMemoryMB prefers the cgroup v2 limit over physical memory.
func totalMemoryMB() int {
	if data, err := os.ReadFile(cgroupMemoryMax); err == nil {
		value := strings.TrimSpace(string(data))
		if value != "max" {
			if bytes, err := strconv.ParseInt(value, 10, 64); err == nil && bytes > 0 {
				return int(bytes >> 20)
			}
		}
	}

	file, err := os.Open(procMeminfo)
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			if kb, err := strconv.Atoi(fields[1]); err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}
