package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendedLimit(t *testing.T) {
	assert.Equal(t, 0, recommendedLimitMB(0))
	assert.Equal(t, 256, recommendedLimitMB(256))
	assert.Equal(t, 512, recommendedLimitMB(600))
	assert.Equal(t, 12288, recommendedLimitMB(16384))
}

func TestMemoryLimitPrefersConfigAndCgroup(t *testing.T) {
	assert.Equal(t, 2048, MemoryLimitMB(2048))

	dir := t.TempDir()
	cgroup := filepath.Join(dir, "memory.max")
	meminfo := filepath.Join(dir, "meminfo")
	require.NoError(t, os.WriteFile(meminfo, []byte("MemTotal:       16777216 kB\nMemFree: 1 kB\n"), 0o644))

	oldCgroup, oldMeminfo := cgroupMemoryMax, procMeminfo
	cgroupMemoryMax, procMeminfo = cgroup, meminfo
	t.Cleanup(func() { cgroupMemoryMax, procMeminfo = oldCgroup, oldMeminfo })

	// No cgroup file: physical memory.
	assert.Equal(t, 12288, MemoryLimitMB(0))

	require.NoError(t, os.WriteFile(cgroup, []byte("max\n"), 0o644))
	assert.Equal(t, 12288, MemoryLimitMB(0))

	require.NoError(t, os.WriteFile(cgroup, []byte("4294967296\n"), 0o644))
	assert.Equal(t, 3072, MemoryLimitMB(0))
}
