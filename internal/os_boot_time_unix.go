//go:build unix

package coreaffinity_internal

import (
	"fmt"
	"time"

	"github.com/mackerelio/go-osstat/uptime"
)

func GetOsBootTime() (time.Time, error) {
	upTime, err := uptime.Get()
	if err != nil {
		return time.Now(), fmt.Errorf("uptime.Get(): %w", err)
	}
	return time.Now().Add(-upTime), nil
}
