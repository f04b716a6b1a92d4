package async

import (
	"fmt"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Number of workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsWaiting   int     `json:"jobs_waiting"`    // AWAITING jobs
	JobsRunning   int     `json:"jobs_running"`    // Jobs between AWAITING and a terminal status
}

// getMemoryStats is implemented in platform-specific files

// calculateSafeWorkerCount recommends a worker count for the available memory.
// Workers mostly wait on remote agents; each holds one report and its
// accumulated QA blocks in memory.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.5 // GB per in-flight report
	const memoryBuffer = 1.0    // GB reserved for the rest of the system

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 32 {
		return 32
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	waiting, running, err := wp.queue.GetJobCounts()
	if err != nil {
		waiting, running = 0, 0
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsWaiting:   waiting,
		JobsRunning:   running,
	}
}

// checkMemoryPressure returns a warning when the worker count may be too high, "" if OK
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing pulse.workers.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
