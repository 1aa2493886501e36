//go:build !unix

package coreaffinity_internal

import (
	"errors"
	"time"
)

var ErrHostInfoNotSupported = errors.New("host info not supported on this platform")

func (hostInfo *HostInfo) setOsInfo() error { return ErrHostInfoNotSupported }

func (hostInfo *HostInfo) setCpuCounts() error { return ErrHostInfoNotSupported }

func GetOsReleaseInfo() (map[string]string, error) { return nil, ErrHostInfoNotSupported }

func GetOsBootTime() (time.Time, error) { return time.Time{}, ErrHostInfoNotSupported }

func GetMyCpuTime() (float64, error) { return 0, ErrHostInfoNotSupported }
