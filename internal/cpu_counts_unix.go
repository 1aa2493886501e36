//go:build unix

// CPU counts as reported by the OS, used to cross check the topology.

package coreaffinity_internal

import (
	"errors"
	"fmt"

	"github.com/tklauser/go-sysconf"
	"github.com/tklauser/numcpus"
)

func (hostInfo *HostInfo) setCpuCounts() error {
	errs := make([]error, 0)

	if n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN); err != nil {
		errs = append(errs, fmt.Errorf("sysconf(SC_NPROCESSORS_ONLN): %w", err))
	} else {
		hostInfo.OnlineCpus = int(n)
	}

	if n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_CONF); err != nil {
		errs = append(errs, fmt.Errorf("sysconf(SC_NPROCESSORS_CONF): %w", err))
	} else {
		hostInfo.ConfiguredCpus = int(n)
	}

	if n, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err != nil {
		errs = append(errs, fmt.Errorf("sysconf(SC_CLK_TCK): %w", err))
	} else {
		hostInfo.Clktck = n
	}

	if n, err := numcpus.GetPossible(); err != nil {
		errs = append(errs, fmt.Errorf("numcpus.GetPossible(): %w", err))
	} else {
		hostInfo.PossibleCpus = n
	}

	return errors.Join(errs...)
}
