//go:build unix

// os-release(5) parsing

package coreaffinity_internal

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

var osReleaseFiles = []string{
	"/etc/os-release",
	"/usr/lib/os-release",
}

// Parse KEY=VALUE lines, keys lowercased, values unquoted; empty values are
// discarded.
func parseOsReleaseFile(filePath string) (map[string]string, error) {
	fh, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	osRelease := make(map[string]string)
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		key, val, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(val), `"`), `"`)
		if key == "" || val == "" {
			continue
		}
		osRelease[key] = val
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return osRelease, nil
}

func GetOsReleaseInfo() (map[string]string, error) {
	errList := make([]string, 0, len(osReleaseFiles))
	for _, filePath := range osReleaseFiles {
		osRelease, err := parseOsReleaseFile(filePath)
		if err == nil {
			return osRelease, nil
		}
		errList = append(errList, err.Error())
	}
	return nil, fmt.Errorf("%s", strings.Join(errList, ", "))
}
