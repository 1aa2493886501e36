// Thread affinity management based on the CPU topology.

// The manager determines the set of processors available to the process and
// from it, it selects one processor per physical core, the core
// representative. Compute workers are then pinned one per core representative,
// such that no 2 workers share a physical core via hyperthreading.
//
// Pinning is suppressed altogether if the user already expressed parallelism
// intent via well known environment variables, or if a GPU pipeline is
// active, since the latter relies on driver threads which should not compete
// with pinned workers.
//
// Binding applies to the OS thread of the calling goroutine, so the caller
// should have locked the goroutine to its thread (runtime.LockOSThread)
// beforehand; BindWorkers takes care of that for the workers it starts.

package coreaffinity_internal

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

// Environment variables which, if present, disable pinning:
var PARALLELISM_ENV_VARS = []string{
	"OMP_CANCELLATION", "OMP_DISPLAY_ENV", "OMP_DEFAULT_DEVICE", "OMP_DYNAMIC",
	"OMP_MAX_ACTIVE_LEVELS", "OMP_MAX_TASK_PRIORITY", "OMP_NESTED",
	"OMP_NUM_THREADS", "OMP_PROC_BIND", "OMP_PLACES", "OMP_STACKSIZE",
	"OMP_SCHEDULE", "OMP_THREAD_LIMIT", "OMP_WAIT_POLICY", "GOMP_CPU_AFFINITY",
	"GOMP_DEBUG", "GOMP_STACKSIZE", "GOMP_SPINCOUNT", "GOMP_RTEMS_THREAD_POOLS",
	"KMP_AFFINITY", "KMP_NUM_THREADS", "MIC_KMP_AFFINITY",
	"MIC_OMP_NUM_THREADS", "MIC_OMP_PROC_BIND", "PHI_KMP_AFFINITY",
	"PHI_OMP_NUM_THREADS", "PHI_KMP_PLACE_THREADS", "MKL_NUM_THREADS",
	"MKL_DYNAMIC", "MKL_DOMAIN_NUM_THREADS",
}

// Replaced in tests:
var lookupEnvFunc = os.LookupEnv

var affinityLog = NewCompLogger("affinity")

type AffinityConfig struct {
	// Additional environment variables which disable pinning when present:
	ExtraEnvVars []string `yaml:"extra_env_vars"`
	// Disable pinning unconditionally:
	DisableBind bool `yaml:"disable_bind"`
}

func DefaultAffinityConfig() *AffinityConfig {
	return &AffinityConfig{
		ExtraEnvVars: []string{},
		DisableBind:  false,
	}
}

type AffinityManager struct {
	topology *Topology
	ops      AffinityOps
	// The processors available to the process, as reported by the OS, or all
	// the processors from the topology if the former is not available:
	currentAffinity *ProcessorSet
	// One processor per physical core, subset of the above:
	coreRepresentatives *ProcessorSet
	// The number of the above, cached:
	numCoreRepresentatives int
	// The environment variables found at construction, in checking order:
	envOverrideVars []string
	bindDisabled    bool
	// Externally toggled, advisory:
	gpuEnabled *atomic.Bool
}

func NewAffinityManager(topology *Topology, ops AffinityOps, cfg *AffinityConfig) *AffinityManager {
	if cfg == nil {
		cfg = DefaultAffinityConfig()
	}
	if topology == nil {
		topology = NewTopology()
	}

	m := &AffinityManager{
		topology:        topology,
		ops:             ops,
		envOverrideVars: make([]string, 0),
		bindDisabled:    cfg.DisableBind,
		gpuEnabled:      &atomic.Bool{},
	}

	for _, envVarList := range [][]string{PARALLELISM_ENV_VARS, cfg.ExtraEnvVars} {
		for _, envVar := range envVarList {
			if _, ok := lookupEnvFunc(envVar); ok {
				m.envOverrideVars = append(m.envOverrideVars, envVar)
			}
		}
	}
	if len(m.envOverrideVars) > 0 {
		affinityLog.Infof("env override: %v", m.envOverrideVars)
	}

	m.initCurrentAffinity()
	m.initCoreRepresentatives()

	affinityLog.Infof(
		"current_affinity=%q, core_representatives=%q",
		m.currentAffinity, m.coreRepresentatives,
	)
	return m
}

func (m *AffinityManager) initCurrentAffinity() {
	var (
		cpuSet *ProcessorSet
		err    error
	)
	if m.ops != nil {
		cpuSet, err = m.ops.GetAffinity()
	} else {
		err = ErrAffinityNotSupported
	}
	if err != nil || cpuSet == nil {
		affinityLog.Warnf("get affinity: %v, default to all topology processors", err)
		cpuSet = NewProcessorSetRange(m.topology.NumProcessors())
	}
	m.currentAffinity = cpuSet
}

// Select the lowest id processor for each core bucket, where the bucket of a
// processor is its id modulo the number of physical cores.
func (m *AffinityManager) initCoreRepresentatives() {
	m.coreRepresentatives = &ProcessorSet{}
	numCores := int(m.topology.TotalPhysicalCores)
	if numCores == 0 {
		affinityLog.Warn("no physical core info, pinning unsupported")
		return
	}
	usedBuckets := &ProcessorSet{}
	numProcessors := m.topology.NumProcessors()
	for id := 0; id < numProcessors; id++ {
		if !m.currentAffinity.IsSet(id) {
			continue
		}
		if bucket := id % numCores; !usedBuckets.IsSet(bucket) {
			usedBuckets.Set(bucket)
			m.coreRepresentatives.Set(id)
		}
	}
	m.numCoreRepresentatives = m.coreRepresentatives.Count()
}

func (m *AffinityManager) Topology() *Topology {
	return m.topology
}

// The sets are returned as copies:
func (m *AffinityManager) CurrentAffinity() *ProcessorSet {
	cpuSet := *m.currentAffinity
	return &cpuSet
}

func (m *AffinityManager) CoreRepresentatives() *ProcessorSet {
	cpuSet := *m.coreRepresentatives
	return &cpuSet
}

func (m *AffinityManager) NumCoreRepresentatives() int {
	return m.numCoreRepresentatives
}

func (m *AffinityManager) SetGpuEnabled() {
	m.gpuEnabled.Store(true)
}

func (m *AffinityManager) SetGpuDisabled() {
	m.gpuEnabled.Store(false)
}

func (m *AffinityManager) IsGpuEnabled() bool {
	return m.gpuEnabled.Load()
}

func (m *AffinityManager) IsEnvOverridePresent() bool {
	return len(m.envOverrideVars) > 0
}

func (m *AffinityManager) EnvOverrideVars() []string {
	return append([]string(nil), m.envOverrideVars...)
}

func (m *AffinityManager) IsThreadsBindAllowed() bool {
	return !m.bindDisabled &&
		len(m.envOverrideVars) == 0 &&
		!m.gpuEnabled.Load() &&
		m.numCoreRepresentatives > 0
}

// The number of workers for a fan-out: one per core representative if
// pinning is allowed, the number of available processors otherwise.
func (m *AffinityManager) MaxWorkers() int {
	if m.IsThreadsBindAllowed() {
		return m.numCoreRepresentatives
	}
	if n := m.currentAffinity.Count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// The processor id of the k-th core representative. An index beyond the
// representative set is a usage error and it panics.
func (m *AffinityManager) GetPhysicalProcessorId(k int) int {
	id, ok := m.coreRepresentatives.Nth(k)
	if !ok {
		panic(fmt.Sprintf(
			"core representative index %d out of range [0, %d)",
			k, m.numCoreRepresentatives,
		))
	}
	return id
}

// All the available processors sharing the physical core of the k-th core
// representative, i.e. congruent to it modulo the number of cores.
func (m *AffinityManager) CoreCpus(k int) *ProcessorSet {
	id := m.GetPhysicalProcessorId(k)
	numCores := int(m.topology.TotalPhysicalCores)
	numProcessors := m.topology.NumProcessors()
	cpuSet := &ProcessorSet{}
	for id %= numCores; id < numProcessors; id += numCores {
		if m.currentAffinity.IsSet(id) {
			cpuSet.Set(id)
		}
	}
	return cpuSet
}

func (m *AffinityManager) setAffinity(cpuSet *ProcessorSet) {
	if m.ops == nil {
		return
	}
	if err := m.ops.SetAffinity(cpuSet); err != nil {
		affinityLog.Debugf("set affinity %q: %v", cpuSet, err)
	}
}

// Pin the calling thread to the processor of the k-th core representative.
func (m *AffinityManager) BindCurrentThreadToCore(k int) {
	if !m.IsThreadsBindAllowed() {
		return
	}
	m.setAffinity(NewProcessorSet(m.GetPhysicalProcessorId(k)))
}

// Pin the calling thread to all the processors of the physical core of the
// k-th core representative, hyperthreads included.
func (m *AffinityManager) BindCurrentThreadToCoreCpus(k int) {
	if !m.IsThreadsBindAllowed() {
		return
	}
	m.setAffinity(m.CoreCpus(k))
}

// Pin the calling thread, typically a long lived background one, to the 2nd
// physical core, leaving the 1st one to the controlling thread. On single core
// systems use the 1st one.
func (m *AffinityManager) BindCurrentThreadToNonPrimaryCoreIfPossible() {
	if !m.IsThreadsBindAllowed() {
		return
	}
	k := 0
	if m.numCoreRepresentatives > 1 {
		k = 1
	}
	m.BindCurrentThreadToCoreCpus(k)
}

// Run numWorkers workers, each in its own goroutine locked to an OS thread.
// If pinning is allowed, the number is capped to the number of core
// representatives and worker k is pinned to the k-th one before invoking
// worker(k). A value <= 0 for numWorkers stands for MaxWorkers(). It returns
// the actual number of workers after all of them completed.
func (m *AffinityManager) BindWorkers(numWorkers int, worker func(workerIndx int)) int {
	bindAllowed := m.IsThreadsBindAllowed()
	maxWorkers := m.MaxWorkers()
	if numWorkers <= 0 || (bindAllowed && numWorkers > maxWorkers) {
		numWorkers = maxWorkers
	}

	wg := &sync.WaitGroup{}
	for workerIndx := 0; workerIndx < numWorkers; workerIndx++ {
		wg.Add(1)
		go func(workerIndx int) {
			defer wg.Done()
			// The goroutine exits w/o unlocking, so that a pinned thread is
			// terminated rather than returned to the scheduler.
			runtime.LockOSThread()
			if bindAllowed {
				m.BindCurrentThreadToCore(workerIndx)
			}
			if worker != nil {
				worker(workerIndx)
			}
		}(workerIndx)
	}
	wg.Wait()
	return numWorkers
}

// The process wide manager, built lazily from the process wide topology and
// the config set via SetAffinityConfig, if invoked before the 1st use.
var (
	affinityConfig = struct {
		cfg *AffinityConfig
		mu  *sync.Mutex
	}{DefaultAffinityConfig(), &sync.Mutex{}}

	globalAffinityManager     *AffinityManager
	globalAffinityManagerOnce = &sync.Once{}
)

func SetAffinityConfig(cfg *AffinityConfig) {
	affinityConfig.mu.Lock()
	affinityConfig.cfg = cfg
	affinityConfig.mu.Unlock()
}

func GetAffinityManager() *AffinityManager {
	globalAffinityManagerOnce.Do(func() {
		affinityConfig.mu.Lock()
		cfg := affinityConfig.cfg
		affinityConfig.mu.Unlock()
		globalAffinityManager = NewAffinityManager(GetTopology(), NewOsAffinityOps(), cfg)
	})
	return globalAffinityManager
}
