// OS thread affinity primitives.

package coreaffinity_internal

import "errors"

var ErrAffinityNotSupported = errors.New("thread affinity not supported on this platform")

// Both operations apply to the OS thread of the caller:
type AffinityOps interface {
	GetAffinity() (*ProcessorSet, error)
	SetAffinity(cpuSet *ProcessorSet) error
}
