// Reference compute bound workload, one pinned worker per physical core.

// Each worker repeatedly hashes a private buffer until the configured duration
// elapses. Optionally a background monitor thread is pinned to the 2nd
// physical core, sampling the load average while the workers are running.

package coreaffinity_internal

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/mackerelio/go-osstat/loadavg"
)

const (
	WORKLOAD_CONFIG_NUM_WORKERS_DEFAULT         = 0
	WORKLOAD_CONFIG_WORK_SIZE_DEFAULT           = "1MiB"
	WORKLOAD_CONFIG_DURATION_DEFAULT            = 2 * time.Second
	WORKLOAD_CONFIG_BIND_MONITOR_THREAD_DEFAULT = true
	WORKLOAD_CONFIG_MONITOR_INTERVAL_DEFAULT    = 500 * time.Millisecond
	WORKLOAD_MONITOR_INTERVAL_MIN               = 10 * time.Millisecond
)

var workloadLog = NewCompLogger("workload")

type WorkloadConfig struct {
	// The number of workers; 0 stands for one per physical core. The number
	// is capped to the number of cores if pinning is allowed.
	NumWorkers int `yaml:"num_workers"`
	// The size of the buffer hashed by each worker, w/ the usual k, m, g
	// suffixes:
	WorkSize string `yaml:"work_size"`
	// How long to run for:
	Duration time.Duration `yaml:"duration"`
	// Whether to pin the monitor thread to a non primary core:
	BindMonitorThread bool `yaml:"bind_monitor_thread"`
	// Load average sampling interval:
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

func DefaultWorkloadConfig() *WorkloadConfig {
	return &WorkloadConfig{
		NumWorkers:        WORKLOAD_CONFIG_NUM_WORKERS_DEFAULT,
		WorkSize:          WORKLOAD_CONFIG_WORK_SIZE_DEFAULT,
		Duration:          WORKLOAD_CONFIG_DURATION_DEFAULT,
		BindMonitorThread: WORKLOAD_CONFIG_BIND_MONITOR_THREAD_DEFAULT,
		MonitorInterval:   WORKLOAD_CONFIG_MONITOR_INTERVAL_DEFAULT,
	}
}

type WorkerStats struct {
	WorkerIndx int     `yaml:"worker" json:"worker"`
	Passes     uint64  `yaml:"passes" json:"passes"`
	Bytes      uint64  `yaml:"bytes" json:"bytes"`
	Checksum   uint64  `yaml:"checksum" json:"checksum"`
	Elapsed    float64 `yaml:"elapsed_sec" json:"elapsed_sec"`
}

type WorkloadResult struct {
	NumWorkers  int            `yaml:"num_workers" json:"num_workers"`
	BindAllowed bool           `yaml:"bind_allowed" json:"bind_allowed"`
	Elapsed     float64        `yaml:"elapsed_sec" json:"elapsed_sec"`
	CpuTime     float64        `yaml:"cpu_time_sec" json:"cpu_time_sec"`
	TotalBytes  uint64         `yaml:"total_bytes" json:"total_bytes"`
	MaxLoadAvg1 float64        `yaml:"max_loadavg1" json:"max_loadavg1"`
	Workers     []*WorkerStats `yaml:"workers" json:"workers"`
}

// Bytes per second, 0 if nothing was measured:
func (result *WorkloadResult) Throughput() float64 {
	if result.Elapsed <= 0 {
		return 0
	}
	return float64(result.TotalBytes) / result.Elapsed
}

// Fill the buffer w/ a worker specific pattern:
func fillWorkBuffer(buf []byte, workerIndx int) {
	for i := range buf {
		buf[i] = byte(i*31 + workerIndx)
	}
}

func runWorker(workerIndx int, workSize int, duration time.Duration) *WorkerStats {
	buf := make([]byte, workSize)
	fillWorkBuffer(buf, workerIndx)
	stats := &WorkerStats{WorkerIndx: workerIndx}
	h := fnv.New64a()
	start := time.Now()
	for {
		h.Write(buf)
		stats.Passes++
		stats.Bytes += uint64(workSize)
		if time.Since(start) >= duration {
			break
		}
	}
	stats.Checksum = h.Sum64()
	stats.Elapsed = time.Since(start).Seconds()
	return stats
}

// Sample the load average until stopped, return the max 1 min value:
func runMonitor(m *AffinityManager, cfg *WorkloadConfig, stop chan struct{}, done chan float64) {
	runtime.LockOSThread()
	if cfg.BindMonitorThread {
		m.BindCurrentThreadToNonPrimaryCoreIfPossible()
	}

	interval := cfg.MonitorInterval
	if interval < WORKLOAD_MONITOR_INTERVAL_MIN {
		interval = WORKLOAD_MONITOR_INTERVAL_MIN
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	maxLoadAvg1, loggedErr := 0., false
	sample := func() {
		stats, err := loadavg.Get()
		if err != nil {
			if !loggedErr {
				workloadLog.Warnf("loadavg.Get(): %v", err)
				loggedErr = true
			}
			return
		}
		if stats.Loadavg1 > maxLoadAvg1 {
			maxLoadAvg1 = stats.Loadavg1
		}
	}

	sample()
	for {
		select {
		case <-stop:
			sample()
			done <- maxLoadAvg1
			return
		case <-ticker.C:
			sample()
		}
	}
}

func RunWorkload(m *AffinityManager, cfg *WorkloadConfig) (*WorkloadResult, error) {
	if cfg == nil {
		cfg = DefaultWorkloadConfig()
	}
	workSize, err := units.RAMInBytes(cfg.WorkSize)
	if err != nil {
		return nil, fmt.Errorf("invalid work_size %q: %w", cfg.WorkSize, err)
	}
	if workSize <= 0 {
		return nil, fmt.Errorf("invalid work_size %q: must be > 0", cfg.WorkSize)
	}

	stopMonitor, monitorDone := make(chan struct{}), make(chan float64, 1)
	go runMonitor(m, cfg, stopMonitor, monitorDone)

	result := &WorkloadResult{BindAllowed: m.IsThreadsBindAllowed()}
	startCpuTime, cpuTimeErr := GetMyCpuTime()
	start := time.Now()

	mu := &sync.Mutex{}
	workerStats := make(map[int]*WorkerStats)
	result.NumWorkers = m.BindWorkers(cfg.NumWorkers, func(workerIndx int) {
		stats := runWorker(workerIndx, int(workSize), cfg.Duration)
		mu.Lock()
		workerStats[workerIndx] = stats
		mu.Unlock()
	})

	result.Elapsed = time.Since(start).Seconds()
	if cpuTimeErr == nil {
		if endCpuTime, err := GetMyCpuTime(); err == nil {
			result.CpuTime = endCpuTime - startCpuTime
		}
	}
	close(stopMonitor)
	result.MaxLoadAvg1 = <-monitorDone

	result.Workers = make([]*WorkerStats, result.NumWorkers)
	for workerIndx := 0; workerIndx < result.NumWorkers; workerIndx++ {
		stats := workerStats[workerIndx]
		result.Workers[workerIndx] = stats
		result.TotalBytes += stats.Bytes
	}

	workloadLog.Infof(
		"num_workers=%d, bind_allowed=%v, elapsed=%.03fs, cpu_time=%.03fs, throughput=%s/s, max_loadavg1=%.02f",
		result.NumWorkers, result.BindAllowed, result.Elapsed, result.CpuTime,
		units.HumanSize(result.Throughput()), result.MaxLoadAvg1,
	)
	return result, nil
}
