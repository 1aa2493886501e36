//go:build !linux

package coreaffinity_internal

type unsupportedAffinityOps struct{}

func NewOsAffinityOps() AffinityOps {
	return unsupportedAffinityOps{}
}

func (unsupportedAffinityOps) GetAffinity() (*ProcessorSet, error) {
	return nil, ErrAffinityNotSupported
}

func (unsupportedAffinityOps) SetAffinity(*ProcessorSet) error {
	return ErrAffinityNotSupported
}
