//go:build linux

// Thread affinity via sched_{get,set}affinity

package coreaffinity_internal

import (
	"golang.org/x/sys/unix"
)

type linuxAffinityOps struct{}

func NewOsAffinityOps() AffinityOps {
	return linuxAffinityOps{}
}

// pid 0 stands for the calling thread:
func (linuxAffinityOps) GetAffinity() (*ProcessorSet, error) {
	unixSet := unix.CPUSet{}
	if err := unix.SchedGetaffinity(0, &unixSet); err != nil {
		return nil, err
	}
	cpuSet := &ProcessorSet{}
	for id := 0; id < PROCESSOR_SET_SIZE; id++ {
		if unixSet.IsSet(id) {
			cpuSet.Set(id)
		}
	}
	return cpuSet, nil
}

func (linuxAffinityOps) SetAffinity(cpuSet *ProcessorSet) error {
	unixSet := unix.CPUSet{}
	for _, id := range cpuSet.Ids() {
		unixSet.Set(id)
	}
	return unix.SchedSetaffinity(0, &unixSet)
}
