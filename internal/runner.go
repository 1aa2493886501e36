package coreaffinity_internal

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bgp59/logrusx"
	"gopkg.in/yaml.v3"
)

// The runner is the entry point for the command line tool.
//
// It loads the configuration, it applies the command line overrides and it
// primes the process wide topology and affinity manager. It then runs one of
// the reports: topology, optionally w/ host info, or the reference workload.
//
// The command line args are defined as Go flags at package scope, they must
// be parsed by the main function *before* calling the runner.

const (
	CONFIG_FLAG_NAME    = "config"
	CONFIG_FILE_DEFAULT = "coreaffinity-config.yaml"

	OUTPUT_FORMAT_TEXT = "text"
	OUTPUT_FORMAT_YAML = "yaml"
	OUTPUT_FORMAT_JSON = "json"
)

var (
	// Build info, normally set via init() by the user of this package.
	Version string
	GitInfo string
)

var (
	configFileArg = flag.String(
		CONFIG_FLAG_NAME,
		"",
		FormatFlagUsage(fmt.Sprintf(
			`Config file to load, e.g. %s; if not specified then the
			built-in defaults are used`,
			CONFIG_FILE_DEFAULT,
		)),
	)

	cpuinfoFileArg = flag.String(
		"cpuinfo-file",
		"",
		FormatFlagUsage(
			`Override the "coreaffinity_config.cpuinfo_file" config setting`,
		),
	)

	maxCpuinfoSizeArg = flag.String(
		"max-cpuinfo-size",
		"",
		FormatFlagUsage(
			`Override the "coreaffinity_config.max_cpuinfo_size" config setting`,
		),
	)

	disableBindArg = flag.Bool(
		"disable-bind",
		false,
		FormatFlagUsage(
			`Disable thread pinning, overriding the
			"coreaffinity_config.affinity_config.disable_bind" config setting`,
		),
	)

	gpuArg = flag.Bool(
		"gpu",
		false,
		FormatFlagUsage(
			`Mark the GPU as in use, which disables thread pinning`,
		),
	)

	outputFormatArg = flag.String(
		"output-format",
		OUTPUT_FORMAT_TEXT,
		FormatFlagUsage(fmt.Sprintf(
			`Report output format, one of %s, %s or %s`,
			OUTPUT_FORMAT_TEXT, OUTPUT_FORMAT_YAML, OUTPUT_FORMAT_JSON,
		)),
	)

	hostInfoArg = flag.Bool(
		"host-info",
		false,
		FormatFlagUsage(
			`Include the host info in the topology report`,
		),
	)

	numWorkersArg = flag.Int(
		"num-workers",
		-1,
		FormatFlagUsage(
			`Override the "workload.num_workers" config setting, use 0
			for one worker per physical core`,
		),
	)

	workSizeArg = flag.String(
		"work-size",
		"",
		FormatFlagUsage(
			`Override the "workload.work_size" config setting`,
		),
	)

	durationArg = flag.Duration(
		"duration",
		0,
		FormatFlagUsage(
			`Override the "workload.duration" config setting`,
		),
	)
)

func init() {
	logrusx.EnableLoggerArgs()
}

var runnerLog = NewCompLogger("runner")

type TopologyReport struct {
	Host     *HostInfo     `yaml:"host,omitempty" json:"host,omitempty"`
	Status   *StatusReport `yaml:"status" json:"status"`
	Topology *Topology     `yaml:"topology" json:"topology"`
}

type WorkloadReport struct {
	Status *StatusReport   `yaml:"status" json:"status"`
	Result *WorkloadResult `yaml:"result" json:"result"`
}

func checkOutputFormat(format string) error {
	switch format {
	case OUTPUT_FORMAT_TEXT, OUTPUT_FORMAT_YAML, OUTPUT_FORMAT_JSON:
		return nil
	}
	return fmt.Errorf("invalid output format %q", format)
}

type textReport interface {
	Format(w io.Writer) error
}

// Write the report in the given format; the text format is available only for
// reports implementing Format(io.Writer).
func WriteReport(w io.Writer, format string, report any) error {
	switch format {
	case OUTPUT_FORMAT_TEXT:
		if r, ok := report.(textReport); ok {
			return r.Format(w)
		}
		return fmt.Errorf("%T: text format not supported", report)
	case OUTPUT_FORMAT_YAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(report); err != nil {
			return err
		}
		return encoder.Close()
	case OUTPUT_FORMAT_JSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return checkOutputFormat(format)
}

func (report *TopologyReport) Format(w io.Writer) error {
	if host := report.Host; host != nil {
		fmt.Fprintf(w, "Hostname: %s\n", host.Hostname)
		osName := host.OsPrettyName
		if osName == "" {
			osName = host.OsName
		}
		fmt.Fprintf(w, "OS: %s %s %s\n", osName, host.OsRelease, host.Machine)
		fmt.Fprintf(w, "Boot time: %s\n", host.BootTime.Format(time.RFC3339))
		fmt.Fprintf(
			w, "Online/configured/possible CPUs: %d/%d/%d\n",
			host.OnlineCpus, host.ConfiguredCpus, host.PossibleCpus,
		)
	}
	return report.Status.Format(w)
}

func (report *WorkloadReport) Format(w io.Writer) error {
	if err := report.Status.Format(w); err != nil {
		return err
	}
	result := report.Result
	for _, stats := range result.Workers {
		fmt.Fprintf(
			w, "Worker# %d: passes=%d, bytes=%d, checksum=%016x, elapsed=%.03fs\n",
			stats.WorkerIndx, stats.Passes, stats.Bytes, stats.Checksum, stats.Elapsed,
		)
	}
	fmt.Fprintf(w, "Elapsed [sec]: %.03f\n", result.Elapsed)
	fmt.Fprintf(w, "CPU time [sec]: %.03f\n", result.CpuTime)
	fmt.Fprintf(w, "Throughput [bytes/sec]: %.0f\n", result.Throughput())
	_, err := fmt.Fprintf(w, "Max 1 min load average: %.02f\n", result.MaxLoadAvg1)
	return err
}

// Load the config, apply the command line overrides and prime the process wide
// topology and affinity manager. The workload config is updated in place.
func setup(workloadConfig *WorkloadConfig) (*AffinityManager, error) {
	if !flag.Parsed() {
		flag.Parse()
	}

	if err := checkOutputFormat(*outputFormatArg); err != nil {
		return nil, err
	}

	// A nil *WorkloadConfig stored in an interface would not compare to nil:
	var workloadSection any
	if workloadConfig != nil {
		workloadSection = workloadConfig
	}
	cfg, err := LoadConfig(*configFileArg, workloadSection, nil)
	if err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}

	// Override the config with command line args:
	if *cpuinfoFileArg != "" {
		cfg.CpuinfoFile = *cpuinfoFileArg
	}
	if *maxCpuinfoSizeArg != "" {
		cfg.MaxCpuinfoSize = *maxCpuinfoSizeArg
	}
	if cfg.AffinityConfig == nil {
		cfg.AffinityConfig = DefaultAffinityConfig()
	}
	if *disableBindArg {
		cfg.AffinityConfig.DisableBind = true
	}
	if workloadConfig != nil {
		if *numWorkersArg >= 0 {
			workloadConfig.NumWorkers = *numWorkersArg
		}
		if *workSizeArg != "" {
			workloadConfig.WorkSize = *workSizeArg
		}
		if *durationArg > 0 {
			workloadConfig.Duration = *durationArg
		}
	}
	logrusx.ApplySetLoggerArgs(cfg.LoggerConfig)

	if err = SetLogger(cfg.LoggerConfig); err != nil {
		return nil, fmt.Errorf("error setting the logger: %w", err)
	}

	maxSize, err := cfg.MaxCpuinfoSizeBytes()
	if err != nil {
		return nil, err
	}
	SetTopologySource(cfg.CpuinfoFile, maxSize)
	SetAffinityConfig(cfg.AffinityConfig)

	m := GetAffinityManager()
	if *gpuArg {
		m.SetGpuEnabled()
	}
	return m, nil
}

func writeReport(w io.Writer, report any) int {
	if err := WriteReport(w, *outputFormatArg, report); err != nil {
		runnerLog.Errorf("error writing the report: %v", err)
		return 1
	}
	return 0
}

// Print the build info; the return value is the exit code.
func RunVersion(w io.Writer) int {
	fmt.Fprintf(w, "Version: %s, GitInfo: %s\n", Version, GitInfo)
	return 0
}

// Report the topology and the affinity status; the return value is the exit
// code.
func RunTopologyReport(w io.Writer) int {
	m, err := setup(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	m.LogStatus()

	report := &TopologyReport{
		Status:   m.Status(),
		Topology: m.Topology(),
	}
	if *hostInfoArg {
		report.Host = GetHostInfo()
	}
	return writeReport(w, report)
}

// Run the reference workload and report the results; the return value is the
// exit code.
func RunWorkloadReport(w io.Writer) int {
	workloadConfig := DefaultWorkloadConfig()
	m, err := setup(workloadConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	m.LogStatus()

	result, err := RunWorkload(m, workloadConfig)
	if err != nil {
		runnerLog.Error(err)
		return 1
	}
	return writeReport(w, &WorkloadReport{Status: m.Status(), Result: result})
}
