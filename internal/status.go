// Topology and affinity status report.

package coreaffinity_internal

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

type StatusReport struct {
	ClockSpeedMHz       uint     `yaml:"clock_speed_mhz" json:"clock_speed_mhz"`
	Sockets             uint     `yaml:"sockets" json:"sockets"`
	Cores               uint     `yaml:"cores" json:"cores"`
	Processors          int      `yaml:"processors" json:"processors"`
	CurrentAffinity     string   `yaml:"current_affinity" json:"current_affinity"`
	CoreRepresentatives string   `yaml:"core_representatives" json:"core_representatives"`
	GpuEnabled          bool     `yaml:"gpu_enabled" json:"gpu_enabled"`
	EnvOverride         bool     `yaml:"env_override" json:"env_override"`
	EnvOverrideVars     []string `yaml:"env_override_vars,omitempty" json:"env_override_vars,omitempty"`
	BindAllowed         bool     `yaml:"bind_allowed" json:"bind_allowed"`
	NumWorkers          int      `yaml:"num_workers" json:"num_workers"`
}

func (m *AffinityManager) Status() *StatusReport {
	return &StatusReport{
		ClockSpeedMHz:       m.topology.ClockSpeedMHz,
		Sockets:             m.topology.SocketCount,
		Cores:               m.topology.TotalPhysicalCores,
		Processors:          m.topology.NumProcessors(),
		CurrentAffinity:     m.currentAffinity.String(),
		CoreRepresentatives: m.coreRepresentatives.String(),
		GpuEnabled:          m.IsGpuEnabled(),
		EnvOverride:         m.IsEnvOverridePresent(),
		EnvOverrideVars:     m.EnvOverrideVars(),
		BindAllowed:         m.IsThreadsBindAllowed(),
		NumWorkers:          m.MaxWorkers(),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// The report as (label, value) pairs, in display order:
func (r *StatusReport) lines() [][2]string {
	envOverride := yesNo(r.EnvOverride)
	if r.EnvOverride {
		envOverride = fmt.Sprintf("%s %v", envOverride, r.EnvOverrideVars)
	}
	return [][2]string{
		{"Processor speed [MHz]", fmt.Sprintf("%d", r.ClockSpeedMHz)},
		{"Total number of sockets", fmt.Sprintf("%d", r.Sockets)},
		{"Total number of CPU cores", fmt.Sprintf("%d", r.Cores)},
		{"Total number of processors", fmt.Sprintf("%d", r.Processors)},
		{"Current affinity", r.CurrentAffinity},
		{"Core representatives", r.CoreRepresentatives},
		{"GPU is used", yesNo(r.GpuEnabled)},
		{"Parallelism environment variables are specified", envOverride},
		{"Thread bind allowed", yesNo(r.BindAllowed)},
		{"Number of worker threads", fmt.Sprintf("%d", r.NumWorkers)},
	}
}

func (r *StatusReport) Format(w io.Writer) error {
	buf := &bytes.Buffer{}
	for _, line := range r.lines() {
		fmt.Fprintf(buf, "%s: %s\n", line[0], line[1])
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// One INFO entry per line:
func (r *StatusReport) Log(log *logrus.Entry) {
	for _, line := range r.lines() {
		log.Infof("%s: %s", line[0], line[1])
	}
}

func (m *AffinityManager) LogStatus() {
	m.Status().Log(affinityLog)
}
