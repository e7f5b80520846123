package config

import (
	"os"
	"strconv"
	"strings"
)

// memoryLimit returns the container memory limit in bytes.
// Supports both cgroup v1 and v2.
func memoryLimit() (int64, error) {
	// cgroup v2 first (newer systems)
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	// Fallback to cgroup v1
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	// No cgroup limit detected
	return 0, nil
}

// maxConnectionsFor derives a safe connection cap from the memory limit.
//
// Memory per connection: read buffer (4KB) + send queue (64 slots, mostly
// small JSON payloads) + conn struct and bookkeeping, call it 16KB with
// headroom. 128MB is reserved for the runtime and SQLite page cache.
func maxConnectionsFor(memoryLimitBytes int64) int {
	if memoryLimitBytes == 0 {
		return 10000
	}

	const runtimeOverheadBytes = 128 * 1024 * 1024
	const bytesPerConnection = 16 * 1024

	availableBytes := memoryLimitBytes - runtimeOverheadBytes
	if availableBytes < 0 {
		availableBytes = memoryLimitBytes / 2
	}

	maxConns := int(availableBytes / bytesPerConnection)
	if maxConns < 100 {
		maxConns = 100
	}
	if maxConns > 50000 {
		maxConns = 50000
	}
	return maxConns
}
