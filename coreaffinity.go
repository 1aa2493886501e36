// The public face of the core affinity library for the users of this package

package coreaffinity

import (
	"io"

	"github.com/sirupsen/logrus"

	coreaffinity_internal "github.com/bgp59/coreaffinity/internal"
)

const (
	PROCESSOR_SET_SIZE      = coreaffinity_internal.PROCESSOR_SET_SIZE
	TOPOLOGY_SOURCE_DEFAULT = coreaffinity_internal.TOPOLOGY_SOURCE_DEFAULT
	CONFIG_FILE_DEFAULT     = coreaffinity_internal.CONFIG_FILE_DEFAULT
)

type ProcessorSet = coreaffinity_internal.ProcessorSet
type ProcessorRecord = coreaffinity_internal.ProcessorRecord
type Topology = coreaffinity_internal.Topology
type AffinityConfig = coreaffinity_internal.AffinityConfig
type AffinityManager = coreaffinity_internal.AffinityManager
type StatusReport = coreaffinity_internal.StatusReport
type HostInfo = coreaffinity_internal.HostInfo
type WorkloadConfig = coreaffinity_internal.WorkloadConfig
type WorkloadResult = coreaffinity_internal.WorkloadResult

// Build a processor set from a list of ids; ids outside [0,
// PROCESSOR_SET_SIZE) are ignored.
func NewProcessorSet(ids ...int) *ProcessorSet {
	return coreaffinity_internal.NewProcessorSet(ids...)
}

// Parse a topology source, typically /proc/cpuinfo, w/o affecting the process
// wide one. Sources ending in .gz or .zst are decompressed on the fly. A
// maxSize of 0 stands for no limit.
func LoadTopology(path string, maxSize int64) (*Topology, error) {
	return coreaffinity_internal.LoadTopology(path, maxSize)
}

// Override the source of the process wide topology. This function should be
// called *before* the first use of the topology or of the affinity manager,
// typically from an init() function.
func SetTopologySource(path string, maxSize int64) {
	coreaffinity_internal.SetTopologySource(path, maxSize)
}

// Override the affinity config, with the same caveat as above.
func SetAffinityConfig(cfg *AffinityConfig) {
	coreaffinity_internal.SetAffinityConfig(cfg)
}

// The process wide topology, loaded at first use.
func GetTopology() *Topology {
	return coreaffinity_internal.GetTopology()
}

// The process wide affinity manager, built at first use.
func GetAffinityManager() *AffinityManager {
	return coreaffinity_internal.GetAffinityManager()
}

// GPU usage disables thread pinning; it can be toggled at any time, it will
// affect the subsequent bind decisions.
func SetGpuEnabled()  { GetAffinityManager().SetGpuEnabled() }
func SetGpuDisabled() { GetAffinityManager().SetGpuDisabled() }

func IsThreadsBindAllowed() bool {
	return GetAffinityManager().IsThreadsBindAllowed()
}

// Run a fan-out of workers, each locked to an OS thread and, if allowed,
// pinned to a distinct physical core. See AffinityManager.BindWorkers.
func BindWorkers(numWorkers int, worker func(workerIndx int)) int {
	return GetAffinityManager().BindWorkers(numWorkers, worker)
}

// Log the topology and affinity status, one INFO line per item.
func LogStatus() {
	GetAffinityManager().LogStatus()
}

func GetHostInfo() *HostInfo {
	return coreaffinity_internal.GetHostInfo()
}

// Run the reference workload on the process wide affinity manager.
func RunWorkload(cfg *WorkloadConfig) (*WorkloadResult, error) {
	return coreaffinity_internal.RunWorkload(GetAffinityManager(), cfg)
}

// The root logger. Needed only for tests where the logger is captured (see
// testutils/log_collector.go), its actual type is obscured:
//
//	func TestSomethingWithLogger(t *testing.T) {
//		tlc := coreaffinity_testutils.NewTestLogCollect(t, coreaffinity.GetRootLogger(), nil)
//		defer tlc.RestoreLog()
//		...
//	}
func GetRootLogger() any { return coreaffinity_internal.RootLogger }

// Create new component logger w/ comp=compName field:
func NewCompLogger(comp string) *logrus.Entry {
	return coreaffinity_internal.NewCompLogger(comp)
}

// Update build info: version (semver) and git info. This function should be
// called *before* the runner is invoked, typically from an init() function.
func UpdateBuildInfo(version, gitInfo string) {
	coreaffinity_internal.Version = version
	coreaffinity_internal.GitInfo = gitInfo
}

// The runner entry points for the command line tool. The command line args
// must be parsed before invoking them. Their return value should be used as
// process exit status.
func RunVersion(w io.Writer) int        { return coreaffinity_internal.RunVersion(w) }
func RunTopologyReport(w io.Writer) int { return coreaffinity_internal.RunTopologyReport(w) }
func RunWorkloadReport(w io.Writer) int { return coreaffinity_internal.RunWorkloadReport(w) }
