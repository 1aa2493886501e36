package coreaffinity_internal

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	coreaffinity_testutils "github.com/bgp59/coreaffinity/testutils"
)

// Affinity ops mock; all set calls are recorded:
type TestAffinityOps struct {
	getSet   *ProcessorSet
	getErr   error
	setCalls []*ProcessorSet
	mu       *sync.Mutex
}

func NewTestAffinityOps(getSet *ProcessorSet, getErr error) *TestAffinityOps {
	return &TestAffinityOps{
		getSet:   getSet,
		getErr:   getErr,
		setCalls: make([]*ProcessorSet, 0),
		mu:       &sync.Mutex{},
	}
}

func (ops *TestAffinityOps) GetAffinity() (*ProcessorSet, error) {
	if ops.getErr != nil {
		return nil, ops.getErr
	}
	cpuSet := *ops.getSet
	return &cpuSet, nil
}

func (ops *TestAffinityOps) SetAffinity(cpuSet *ProcessorSet) error {
	ops.mu.Lock()
	defer ops.mu.Unlock()
	setCopy := *cpuSet
	ops.setCalls = append(ops.setCalls, &setCopy)
	return nil
}

func (ops *TestAffinityOps) SetCalls() []*ProcessorSet {
	ops.mu.Lock()
	defer ops.mu.Unlock()
	return append([]*ProcessorSet(nil), ops.setCalls...)
}

// Replace the environment lookup for the duration of the test:
func testAffinitySetEnv(t *testing.T, env map[string]string) {
	savedLookupEnvFunc := lookupEnvFunc
	lookupEnvFunc = func(key string) (string, bool) {
		val, ok := env[key]
		return val, ok
	}
	t.Cleanup(func() { lookupEnvFunc = savedLookupEnvFunc })
}

func testAffinityLoadTopology(t *testing.T, cpuinfoFile string) *Topology {
	topology, err := LoadTopology(path.Join(TOPOLOGY_TEST_CASES_DIR, cpuinfoFile), 0)
	if err != nil {
		t.Fatal(err)
	}
	return topology
}

func testAffinityCoreRepresentatives(t *testing.T, tc *TopologyTestCase, getErr error) {
	tlc := coreaffinity_testutils.NewTestLogCollect(t, RootLogger, nil)
	defer tlc.RestoreLog()
	testAffinitySetEnv(t, nil)

	topology, err := LoadTopology(tc.CpuinfoFile, 0)
	if err != nil {
		t.Fatal(err)
	}
	ops := NewTestAffinityOps(NewProcessorSetRange(topology.NumProcessors()), getErr)
	m := NewAffinityManager(topology, ops, nil)

	if diff := cmp.Diff(tc.WantCoreRepresentatives, m.CoreRepresentatives().Ids()); diff != "" {
		t.Fatalf("CoreRepresentatives mismatch (-want +got):\n%s", diff)
	}
	if !m.CoreRepresentatives().IsSubsetOf(m.CurrentAffinity()) {
		t.Fatalf(
			"CoreRepresentatives %q not a subset of CurrentAffinity %q",
			m.CoreRepresentatives(), m.CurrentAffinity(),
		)
	}
	if uint(m.NumCoreRepresentatives()) > topology.TotalPhysicalCores {
		t.Fatalf(
			"NumCoreRepresentatives(): %d > TotalPhysicalCores %d",
			m.NumCoreRepresentatives(), topology.TotalPhysicalCores,
		)
	}
	wantBindAllowed := len(tc.WantCoreRepresentatives) > 0
	if m.IsThreadsBindAllowed() != wantBindAllowed {
		t.Fatalf("IsThreadsBindAllowed(): want %v, got %v", wantBindAllowed, m.IsThreadsBindAllowed())
	}

	// Building it again should yield the same sets:
	m2 := NewAffinityManager(topology, ops, nil)
	if !m.CoreRepresentatives().Equal(m2.CoreRepresentatives()) {
		t.Fatalf(
			"CoreRepresentatives: first %q, second %q",
			m.CoreRepresentatives(), m2.CoreRepresentatives(),
		)
	}
}

func TestAffinityCoreRepresentatives(t *testing.T) {
	for _, tc := range loadTopologyTestCases(t) {
		for _, getErr := range []error{nil, ErrAffinityNotSupported} {
			t.Run(
				fmt.Sprintf("%s,getErr=%v", tc.CpuinfoFile, getErr),
				func(t *testing.T) { testAffinityCoreRepresentatives(t, tc, getErr) },
			)
		}
	}
}

func TestAffinityCoreRepresentativesRestricted(t *testing.T) {
	testAffinitySetEnv(t, nil)
	topology := testAffinityLoadTopology(t, "cpuinfo-2s4c2t.txt")

	// Processors 0 and 3 are not available, 100 is beyond the topology:
	getSet := NewProcessorSetRange(16)
	getSet.Clear(0)
	getSet.Clear(3)
	getSet.Set(100)
	m := NewAffinityManager(topology, NewTestAffinityOps(getSet, nil), nil)

	wantIds := []int{1, 2, 4, 5, 6, 7, 8, 11}
	if diff := cmp.Diff(wantIds, m.CoreRepresentatives().Ids()); diff != "" {
		t.Fatalf("CoreRepresentatives mismatch (-want +got):\n%s", diff)
	}

	// The core of representative 8 is {0, 8}, but 0 is not available:
	for _, tc := range []struct {
		k    int
		want []int
	}{
		{0, []int{1, 9}},
		{6, []int{8}},
		{7, []int{11}},
	} {
		if diff := cmp.Diff(tc.want, m.CoreCpus(tc.k).Ids()); diff != "" {
			t.Fatalf("CoreCpus(%d) mismatch (-want +got):\n%s", tc.k, diff)
		}
	}
}

type AffinityBindPolicyTestCase struct {
	name            string
	cpuinfoFile     string
	env             map[string]string
	cfg             *AffinityConfig
	gpuEnabled      bool
	wantBindAllowed bool
}

func testAffinityBindPolicy(t *testing.T, tc *AffinityBindPolicyTestCase) {
	tlc := coreaffinity_testutils.NewTestLogCollect(t, RootLogger, nil)
	defer tlc.RestoreLog()
	testAffinitySetEnv(t, tc.env)

	topology := testAffinityLoadTopology(t, tc.cpuinfoFile)
	ops := NewTestAffinityOps(NewProcessorSetRange(topology.NumProcessors()), nil)
	m := NewAffinityManager(topology, ops, tc.cfg)
	if tc.gpuEnabled {
		m.SetGpuEnabled()
	}

	if m.IsThreadsBindAllowed() != tc.wantBindAllowed {
		t.Fatalf("IsThreadsBindAllowed(): want %v, got %v", tc.wantBindAllowed, m.IsThreadsBindAllowed())
	}
	wantEnvOverride := false
	for _, envVar := range PARALLELISM_ENV_VARS {
		if _, ok := tc.env[envVar]; ok {
			wantEnvOverride = true
		}
	}
	if tc.cfg != nil {
		for _, envVar := range tc.cfg.ExtraEnvVars {
			if _, ok := tc.env[envVar]; ok {
				wantEnvOverride = true
			}
		}
	}
	if m.IsEnvOverridePresent() != wantEnvOverride {
		t.Fatalf("IsEnvOverridePresent(): want %v, got %v", wantEnvOverride, m.IsEnvOverridePresent())
	}

	if m.NumCoreRepresentatives() > 0 {
		m.BindCurrentThreadToCore(0)
		m.BindCurrentThreadToCoreCpus(0)
	}
	m.BindCurrentThreadToNonPrimaryCoreIfPossible()
	numWorkers := m.BindWorkers(0, nil)
	wantNumWorkers := m.MaxWorkers()
	if numWorkers != wantNumWorkers {
		t.Fatalf("BindWorkers(0): want %d, got %d", wantNumWorkers, numWorkers)
	}

	setCalls := ops.SetCalls()
	if !tc.wantBindAllowed && len(setCalls) > 0 {
		t.Fatalf("SetAffinity calls: want 0, got %d", len(setCalls))
	}
	if tc.wantBindAllowed && len(setCalls) != 3+numWorkers {
		t.Fatalf("SetAffinity calls: want %d, got %d", 3+numWorkers, len(setCalls))
	}
}

func TestAffinityBindPolicy(t *testing.T) {
	for _, tc := range []*AffinityBindPolicyTestCase{
		{
			name:            "allowed",
			cpuinfoFile:     "cpuinfo-2s4c2t.txt",
			wantBindAllowed: true,
		},
		{
			name:        "omp_num_threads",
			cpuinfoFile: "cpuinfo-2s4c2t.txt",
			env:         map[string]string{"OMP_NUM_THREADS": "4"},
		},
		{
			name:        "mkl_dynamic_empty",
			cpuinfoFile: "cpuinfo-2s4c2t.txt",
			env:         map[string]string{"MKL_DYNAMIC": ""},
		},
		{
			name:            "unrelated_env",
			cpuinfoFile:     "cpuinfo-2s4c2t.txt",
			env:             map[string]string{"GOMAXPROCS": "4", "OMP_NUM_THREADSX": "1"},
			wantBindAllowed: true,
		},
		{
			name:        "extra_env",
			cpuinfoFile: "cpuinfo-2s4c2t.txt",
			env:         map[string]string{"MY_NUM_THREADS": "4"},
			cfg:         &AffinityConfig{ExtraEnvVars: []string{"MY_NUM_THREADS"}},
		},
		{
			name:        "gpu",
			cpuinfoFile: "cpuinfo-2s4c2t.txt",
			gpuEnabled:  true,
		},
		{
			name:        "disable_bind",
			cpuinfoFile: "cpuinfo-2s4c2t.txt",
			cfg:         &AffinityConfig{DisableBind: true},
		},
		{
			name:        "no_core_info",
			cpuinfoFile: "cpuinfo-arm64.txt",
		},
		{
			name:        "empty_topology",
			cpuinfoFile: "cpuinfo-empty.txt",
		},
	} {
		t.Run(
			tc.name,
			func(t *testing.T) { testAffinityBindPolicy(t, tc) },
		)
	}
}

func TestAffinityGpuToggle(t *testing.T) {
	testAffinitySetEnv(t, nil)
	topology := testAffinityLoadTopology(t, "cpuinfo-1s4c1t.txt")
	m := NewAffinityManager(topology, NewTestAffinityOps(NewProcessorSetRange(4), nil), nil)
	for _, gpuEnabled := range []bool{false, true, false, true, false} {
		if gpuEnabled {
			m.SetGpuEnabled()
		} else {
			m.SetGpuDisabled()
		}
		if m.IsGpuEnabled() != gpuEnabled {
			t.Fatalf("IsGpuEnabled(): want %v, got %v", gpuEnabled, m.IsGpuEnabled())
		}
		if m.IsThreadsBindAllowed() == gpuEnabled {
			t.Fatalf("gpuEnabled=%v: IsThreadsBindAllowed(): want %v", gpuEnabled, !gpuEnabled)
		}
	}
}

func testAffinityBindWorkers(t *testing.T, requested, wantWorkers int, wantUnion []int) {
	testAffinitySetEnv(t, nil)
	topology := testAffinityLoadTopology(t, "cpuinfo-2s4c2t.txt")
	ops := NewTestAffinityOps(NewProcessorSetRange(16), nil)
	m := NewAffinityManager(topology, ops, nil)

	mu := &sync.Mutex{}
	invoked := make([]int, 0)
	gotWorkers := m.BindWorkers(requested, func(workerIndx int) {
		mu.Lock()
		invoked = append(invoked, workerIndx)
		mu.Unlock()
	})
	if gotWorkers != wantWorkers {
		t.Fatalf("BindWorkers(%d): want %d, got %d", requested, wantWorkers, gotWorkers)
	}

	sort.Ints(invoked)
	wantInvoked := make([]int, wantWorkers)
	for i := range wantInvoked {
		wantInvoked[i] = i
	}
	if diff := cmp.Diff(wantInvoked, invoked); diff != "" {
		t.Fatalf("worker indexes mismatch (-want +got):\n%s", diff)
	}

	setCalls := ops.SetCalls()
	if len(setCalls) != wantWorkers {
		t.Fatalf("SetAffinity calls: want %d, got %d", wantWorkers, len(setCalls))
	}
	union := &ProcessorSet{}
	for _, cpuSet := range setCalls {
		if cpuSet.Count() != 1 {
			t.Fatalf("SetAffinity(%q): want singleton", cpuSet)
		}
		if union.Intersect(cpuSet).Count() != 0 {
			t.Fatalf("SetAffinity(%q): processor shared by 2 workers", cpuSet)
		}
		union = union.Union(cpuSet)
	}
	if diff := cmp.Diff(wantUnion, union.Ids()); diff != "" {
		t.Fatalf("pinned processors mismatch (-want +got):\n%s", diff)
	}
}

func TestAffinityBindWorkers(t *testing.T) {
	for _, tc := range []struct {
		requested   int
		wantWorkers int
		wantUnion   []int
	}{
		{0, 8, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{8, 8, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{16, 8, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{3, 3, []int{0, 1, 2}},
	} {
		t.Run(
			fmt.Sprintf("requested=%d", tc.requested),
			func(t *testing.T) { testAffinityBindWorkers(t, tc.requested, tc.wantWorkers, tc.wantUnion) },
		)
	}
}

func TestAffinityBindWorkersNotAllowed(t *testing.T) {
	testAffinitySetEnv(t, map[string]string{"KMP_AFFINITY": "compact"})
	topology := testAffinityLoadTopology(t, "cpuinfo-2s4c2t.txt")
	ops := NewTestAffinityOps(NewProcessorSetRange(16), nil)
	m := NewAffinityManager(topology, ops, nil)

	for _, tc := range []struct {
		requested   int
		wantWorkers int
	}{
		{0, 16},
		{20, 20},
		{2, 2},
	} {
		if got := m.BindWorkers(tc.requested, nil); got != tc.wantWorkers {
			t.Fatalf("BindWorkers(%d): want %d, got %d", tc.requested, tc.wantWorkers, got)
		}
	}
	if n := len(ops.SetCalls()); n != 0 {
		t.Fatalf("SetAffinity calls: want 0, got %d", n)
	}
}

func TestAffinityNonPrimaryCore(t *testing.T) {
	for _, tc := range []struct {
		cpuinfoFile string
		want        []int
	}{
		{"cpuinfo-2s4c2t.txt", []int{1, 9}},
		{"cpuinfo-1s2c2t-mhz.txt", []int{1, 3}},
		{"cpuinfo-1s4c1t.txt", []int{1}},
		{"cpuinfo-1s1c1t-nounit.txt", []int{0}},
	} {
		t.Run(
			tc.cpuinfoFile,
			func(t *testing.T) {
				testAffinitySetEnv(t, nil)
				topology := testAffinityLoadTopology(t, tc.cpuinfoFile)
				ops := NewTestAffinityOps(NewProcessorSetRange(topology.NumProcessors()), nil)
				m := NewAffinityManager(topology, ops, nil)
				m.BindCurrentThreadToNonPrimaryCoreIfPossible()
				setCalls := ops.SetCalls()
				if len(setCalls) != 1 {
					t.Fatalf("SetAffinity calls: want 1, got %d", len(setCalls))
				}
				if diff := cmp.Diff(tc.want, setCalls[0].Ids()); diff != "" {
					t.Fatalf("affinity mismatch (-want +got):\n%s", diff)
				}
			},
		)
	}
}

func TestAffinityGetPhysicalProcessorIdOutOfRange(t *testing.T) {
	testAffinitySetEnv(t, nil)
	topology := testAffinityLoadTopology(t, "cpuinfo-1s4c1t.txt")
	m := NewAffinityManager(topology, NewTestAffinityOps(nil, errors.New("no affinity")), nil)

	for k := 0; k < 4; k++ {
		if id := m.GetPhysicalProcessorId(k); id != k {
			t.Fatalf("GetPhysicalProcessorId(%d): want %d, got %d", k, k, id)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("GetPhysicalProcessorId(4): want panic")
		}
	}()
	m.GetPhysicalProcessorId(4)
}
