//go:build unix

package coreaffinity_internal

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestHostInfo(t *testing.T) {
	hostInfo := GetHostInfo()
	buf, err := yaml.Marshal(hostInfo)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("HostInfo:\n%s", buf)
}

func TestOsRelease(t *testing.T) {
	osRelease, err := GetOsReleaseInfo()
	if err != nil {
		t.Skip(err)
	}
	buf := new(bytes.Buffer)
	keys := []string{}
	for key := range osRelease {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(buf, "\t%s: %q\n", key, osRelease[key])
	}
	t.Logf("OsRelease:\n%s", buf)
}

func TestParseOsReleaseFile(t *testing.T) {
	osReleaseFile := path.Join(t.TempDir(), "os-release")
	data := `
PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
NAME="Debian GNU/Linux"
VERSION_ID="12"
ID=debian
EMPTY=""
# comment
`
	if err := os.WriteFile(osReleaseFile, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := parseOsReleaseFile(osReleaseFile)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"pretty_name": "Debian GNU/Linux 12 (bookworm)",
		"name":        "Debian GNU/Linux",
		"version_id":  "12",
		"id":          "debian",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("os-release mismatch (-want +got):\n%s", diff)
	}
}

func TestSemVerPrefix(t *testing.T) {
	for release, want := range map[string]string{
		"5.4.0-42-generic":     "5.4.0",
		"6.1.0":                "6.1.0",
		"6.18.44-fc-v139":      "6.18.44",
		"23.6.0":               "23.6.0",
		"":                     "",
		"rc1":                  "",
		"4.19.0+1-amd64-extra": "4.19.0",
	} {
		if got := semVerPrefix(release); got != want {
			t.Errorf("semVerPrefix(%q): want %q, got %q", release, want, got)
		}
	}
}

func TestOsGetMyCpuTime(t *testing.T) {
	cpuTime, err := GetMyCpuTime()
	if err != nil {
		t.Fatalf("GetMyCpuTime(): %v", err)
	}
	t.Logf("GetMyCpuTime() = %f", cpuTime)
}
