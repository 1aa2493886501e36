//go:build unix

package coreaffinity_internal

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

func zeroSuffixBufToString(buf []byte) string {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		i = len(buf)
	}
	return string(buf[:i])
}

func (hostInfo *HostInfo) setOsInfo() error {
	uname := unix.Utsname{}
	if err := unix.Uname(&uname); err != nil {
		return fmt.Errorf("unix.Uname(): %w", err)
	}
	hostInfo.OsName = zeroSuffixBufToString(uname.Sysname[:])
	hostInfo.OsRelease = zeroSuffixBufToString(uname.Release[:])
	hostInfo.Machine = zeroSuffixBufToString(uname.Machine[:])
	// The semver prefix of the release, e.g. 5.4.0 for 5.4.0-42-generic:
	hostInfo.OsVersion = semVerPrefix(hostInfo.OsRelease)
	return nil
}

func semVerPrefix(release string) string {
	for i, c := range release {
		if c != '.' && (c < '0' || '9' < c) {
			return release[:i]
		}
	}
	return release
}
