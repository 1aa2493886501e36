// Host info, complementing the CPU topology in status reports.

package coreaffinity_internal

import (
	"os"
	"time"
)

type HostInfo struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	// uname based:
	OsName    string `yaml:"os_name" json:"os_name"`
	OsRelease string `yaml:"os_release" json:"os_release"`
	OsVersion string `yaml:"os_version" json:"os_version"`
	Machine   string `yaml:"machine" json:"machine"`
	// os-release based:
	OsPrettyName string    `yaml:"os_pretty_name,omitempty" json:"os_pretty_name,omitempty"`
	BootTime     time.Time `yaml:"boot_time" json:"boot_time"`
	// CPU counts as reported by the OS, -1 if unavailable:
	OnlineCpus     int   `yaml:"online_cpus" json:"online_cpus"`
	ConfiguredCpus int   `yaml:"configured_cpus" json:"configured_cpus"`
	PossibleCpus   int   `yaml:"possible_cpus" json:"possible_cpus"`
	Clktck         int64 `yaml:"clktck" json:"clktck"`
}

var hostInfoLog = NewCompLogger("hostinfo")

// Collect the host info; errors are logged and the affected fields are left
// to their default values.
func GetHostInfo() *HostInfo {
	hostInfo := &HostInfo{
		BootTime:       time.Now(),
		OnlineCpus:     -1,
		ConfiguredCpus: -1,
		PossibleCpus:   -1,
	}

	var err error
	if hostInfo.Hostname, err = os.Hostname(); err != nil {
		hostInfoLog.Warnf("os.Hostname(): %v", err)
	}

	if err = hostInfo.setOsInfo(); err != nil {
		hostInfoLog.Warnf("setOsInfo(): %v", err)
	}

	if osRelease, err := GetOsReleaseInfo(); err != nil {
		hostInfoLog.Warnf("GetOsReleaseInfo(): %v", err)
	} else {
		hostInfo.OsPrettyName = osRelease["pretty_name"]
	}

	if bootTime, err := GetOsBootTime(); err != nil {
		hostInfoLog.Warnf("GetOsBootTime(): %v", err)
	} else {
		hostInfo.BootTime = bootTime
	}

	if err = hostInfo.setCpuCounts(); err != nil {
		hostInfoLog.Warnf("setCpuCounts(): %v", err)
	}

	return hostInfo
}
