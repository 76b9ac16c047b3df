package engine

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/plumb/errors"
)

// SystemMetrics reports worker usage against host memory
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	RunsInFlight  int     `json:"runs_in_flight"`
}

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount assumes each run holds its whole batch in memory,
// budgeting 512MB per worker after a 1GB reserve.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.5
	const memoryBuffer = 1.0

	if availableGB < memoryBuffer+memoryPerWorker {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended > 64 {
		return 64
	}
	return recommended
}

// checkMemoryPressure returns a warning when workers exceeds what available memory suggests
func checkMemoryPressure(workers int, stats func() (uint64, uint64, error)) string {
	total, available, err := stats()
	if err != nil {
		return ""
	}
	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)
	if workers > recommended {
		return fmt.Sprintf(
			"worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB free)",
			workers, recommended, availableGB, totalGB)
	}
	return ""
}

// SystemMetrics returns current worker and memory usage
func (e *Engine) SystemMetrics() SystemMetrics {
	m := SystemMetrics{
		WorkersActive: e.pool.Active(),
		WorkersTotal:  e.pool.size(),
		RunsInFlight:  e.inFlight(),
	}
	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	return m
}
