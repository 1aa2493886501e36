//go:build unix

package coreaffinity_internal

import (
	"golang.org/x/sys/unix"
)

// User + system CPU time, in seconds:
func GetCpuTime(who int) (float64, error) {
	rusage := &unix.Rusage{}
	if err := unix.Getrusage(who, rusage); err != nil {
		return 0, err
	}
	return float64(rusage.Utime.Sec+rusage.Stime.Sec) +
		float64(rusage.Utime.Usec+rusage.Stime.Usec)/1e6, nil
}

func GetMyCpuTime() (float64, error) {
	return GetCpuTime(unix.RUSAGE_SELF)
}
